package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// filterFetchTimeout bounds a single remote filter-list fetch at
// startup. Scheduling periodic refreshes is out of scope; this is
// only the one-time load used to compile the initial engine.
const filterFetchTimeout = 10 * time.Second

// LoadFilterSources reads each source's full text, fetching it over
// HTTP(S) if it looks like a URL and reading it from disk otherwise.
func LoadFilterSources(sources []string) ([]string, error) {
	texts := make([]string, 0, len(sources))
	for _, src := range sources {
		text, err := loadFilterSource(src)
		if err != nil {
			return nil, fmt.Errorf("load filter source %q: %w", src, err)
		}
		texts = append(texts, text)
	}
	return texts, nil
}

func loadFilterSource(src string) (string, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		client := &http.Client{Timeout: filterFetchTimeout}
		resp, err := client.Get(src)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", err
		}
		return string(body), nil
	}

	body, err := os.ReadFile(src)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
