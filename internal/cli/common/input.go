package common

import (
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/crmarques/reconctl/session"
)

const (
	stdinFileIndicator  = "-"
	MissingInputMessage = "input is required: provide --file <path|-> or stdin"
	maxInputBytes       = 4 << 20
)

// ReadDesiredState reads and decodes the desired-state file named by path, or
// stdin when path is empty or "-".
func ReadDesiredState(command *cobra.Command, path string) (session.Document, error) {
	data, err := readInput(command, path)
	if err != nil {
		return session.Document{}, err
	}
	return session.DecodeDocument(bytes.NewReader(data))
}

func readInput(command *cobra.Command, path string) ([]byte, error) {
	if path != "" && path != stdinFileIndicator {
		file, err := os.Open(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, NotFoundError("desired state file "+path+" not found", err)
			}
			return nil, err
		}
		defer file.Close()

		data, err := readAllWithLimit(file, maxInputBytes)
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, ValidationError("input is empty", nil)
		}
		return data, nil
	}

	inputReader := command.InOrStdin()
	if stdinFile, ok := inputReader.(*os.File); ok {
		info, err := stdinFile.Stat()
		if err == nil && (info.Mode()&os.ModeCharDevice) != 0 {
			return nil, ValidationError(MissingInputMessage, nil)
		}
	}

	data, err := readAllWithLimit(inputReader, maxInputBytes)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ValidationError(MissingInputMessage, nil)
	}
	return data, nil
}

func readAllWithLimit(reader io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, ValidationError("input exceeds maximum supported size", errors.New("input too large"))
	}
	return data, nil
}
