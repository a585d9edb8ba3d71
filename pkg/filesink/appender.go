// Package filesink writes lines to an append-only text file.
package filesink

import (
	"errors"
	"fmt"
	"os"
)

// DefaultPerm is used when the output file has to be created.
const DefaultPerm os.FileMode = 0o644

// Appender appends lines to a file. Each call opens, writes and closes the file,
// so no handle is held between writes and readers only ever see whole lines.
type Appender struct {
	path string
	perm os.FileMode
}

// NewAppender returns an Appender for path. The file is created on first write.
func NewAppender(path string) (*Appender, error) {
	if path == "" {
		return nil, errors.New("output file path is required")
	}
	return &Appender{path: path, perm: DefaultPerm}, nil
}

// Path returns the file the Appender writes to.
func (a *Appender) Path() string {
	return a.path
}

// AppendLine writes line followed by a newline to the end of the file.
func (a *Appender) AppendLine(line string) (err error) {
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, a.perm)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", a.path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", a.path, closeErr)
		}
	}()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to write to %s: %w", a.path, err)
	}
	return nil
}
