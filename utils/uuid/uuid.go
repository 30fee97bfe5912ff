package uuid

import (
	"os"
	"path/filepath"

	google_uuid "github.com/google/uuid"
)

func MustUUID() string {
	return google_uuid.New().String()
}

// TempPath returns a fresh path under the system temp
// directory that is unique to this call.
func TempPath(prefix string) string {
	return filepath.Join(os.TempDir(), prefix+"-"+MustUUID())
}
