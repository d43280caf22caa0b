package moderation

import (
	"bufio"
	"bytes"
	"io/fs"
	"strings"

	"chat-relay/errors"
)

// WordLists carries the parsed dictionaries plus metadata for logging.
type WordLists struct {
	Words     []string
	Languages []string
}

// LoadWordLists reads every .txt file under dir, one word per line,
// deduplicated across files. The filename stem names the language
// ("en.txt" -> "en").
func LoadWordLists(fsys fs.FS, dir string) (*WordLists, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var languages []string
	unique := make(map[string]struct{})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		languages = append(languages, strings.TrimSuffix(entry.Name(), ".txt"))

		data, err := fs.ReadFile(fsys, dir+"/"+entry.Name())
		if err != nil {
			return nil, err
		}

		// Scanner handles \n and \r\n endings alike.
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				unique[line] = struct{}{}
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	if len(unique) == 0 {
		return nil, errors.ErrEmptyWords
	}

	words := make([]string, 0, len(unique))
	for word := range unique {
		words = append(words, word)
	}
	return &WordLists{Words: words, Languages: languages}, nil
}
