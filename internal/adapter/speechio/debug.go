package speechio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// dumpAudioDebug writes a copy of one session's inbound ASR audio to a temp
// file for offline inspection, grounded on the teacher's
// WebSocketHandler.dumpAudioDebug. Opt-in via DEBUG_DUMP_AUDIO; errors are
// logged by the caller, never surfaced to the pipeline.
func dumpAudioDebug(sessionID, format string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	fileName := fmt.Sprintf("asr-%s-%d.%s", sessionID, time.Now().UnixNano(), format)
	path := filepath.Join(os.TempDir(), fileName)
	return os.WriteFile(path, data, 0o600)
}
