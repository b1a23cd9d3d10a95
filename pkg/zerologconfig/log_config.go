package zerologconfig

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.elastic.co/ecszerolog"
)

var appName string
var setAppNameOnce sync.Once
var startupOnce sync.Once

// ElasticsearchWriter ships each log event to an Elasticsearch index endpoint.
type ElasticsearchWriter struct {
	URL string
}

func (ew ElasticsearchWriter) Write(p []byte) (n int, err error) {
	resp, err := http.Post(
		ew.URL+"/_doc",
		"application/json",
		bytes.NewBuffer(p),
	)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("elasticsearch returned %d", resp.StatusCode)
	}

	return len(p), nil
}

func startupLogger(elasticsearchURL, index string) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	if elasticsearchURL == "" {
		// Console only
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().
			Str("app", appName).
			Timestamp().Logger()
		return
	}

	// ECS format to Elasticsearch plus pretty console output
	ecsLogger := ecszerolog.New(&ElasticsearchWriter{
		URL: elasticsearchURL + "/" + index,
	})
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout}

	multi := zerolog.MultiLevelWriter(
		ecsLogger,
		consoleWriter,
	)

	log.Logger = zerolog.New(multi).With().
		Str("app", appName).
		Timestamp().Logger()
}

// SetAppName sets the application name attached to every log event.
func SetAppName(name string) {
	setAppNameOnce.Do(func() {
		appName = name
	})
}

// Startup configures the global logger. When elasticsearchURL is empty the
// logger falls back to console-only output. Run SetAppName before Startup.
func Startup(elasticsearchURL, index string) error {
	if index == "" {
		return fmt.Errorf("index is required")
	}
	startupOnce.Do(func() {
		startupLogger(elasticsearchURL, index)
	})
	return nil
}
