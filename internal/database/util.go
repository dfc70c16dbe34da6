package database

import (
	"os"

	"github.com/pkg/errors"
)

// readFileIfExists returns (nil, nil) if path doesn't exist, instead of
// an error — used for config files that are optional until first write.
func readFileIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "database: reading %s", path)
	}
	return data, nil
}

// writeFileAtomic writes data to path via a temp file and rename, so a
// crash mid-write never leaves a truncated config file behind.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "database: writing %s", tmp)
	}
	return os.Rename(tmp, path)
}
