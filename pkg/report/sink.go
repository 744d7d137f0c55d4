package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// Sink receives one event per processed URL
type Sink interface {
	Record(ev Event)
	Close() error
}

// LogSink writes one log line per event
type LogSink struct {
	log *logrus.Entry
}

// NewLogSink creates a LogSink
func NewLogSink(log *logrus.Entry) *LogSink {
	return &LogSink{log: log.WithField("component", "report")}
}

// Record implements Sink
func (s *LogSink) Record(ev Event) {
	fields := logrus.Fields{"url": ev.URL, "status": ev.Status, "depth": ev.Depth}
	if ev.HTTPCode != 0 {
		fields["code"] = ev.HTTPCode
	}
	if ev.LocalPath != "" {
		fields["local_path"] = ev.LocalPath
	}
	if ev.RedirectTarget != "" {
		fields["redirect_target"] = ev.RedirectTarget
	}
	if ev.LinksFound > 0 {
		fields["links"] = fmt.Sprintf("%d/%d", ev.LinksQueued, ev.LinksFound)
	}
	entry := s.log.WithFields(fields)

	switch ev.Status {
	case "error":
		entry.WithField("category", ev.Category).Warnf("Failed: %s", ev.Err)
	case "skipped":
		if ev.Save == "deny" {
			entry.Debugf("Not saved, decided by save %s", ev.SaveRule)
			return
		}
		entry.Debugf("Not followed, decided by follow %s", ev.FollowRule)
	case "redirect":
		entry.Infof("Redirect (%s)", ev.RedirectKind)
	default:
		if ev.NotModified {
			entry.Info("Not modified")
			return
		}
		entry.Info("Saved")
	}
}

// Close implements Sink
func (s *LogSink) Close() error { return nil }

// JSONLSink appends each event as a JSON line to a file
type JSONLSink struct {
	mu   sync.Mutex
	file *os.File
	path string
	log  *logrus.Entry
}

// NewJSONLSink creates or truncates path
func NewJSONLSink(path string, log *logrus.Entry) (*JSONLSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening report file '%s': %w", utils.ErrFilesystem, path, err)
	}
	return &JSONLSink{file: file, path: path, log: log.WithField("report_file", path)}, nil
}

// Record implements Sink. Write errors are logged, the crawl goes on.
func (s *JSONLSink) Record(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return
	}
	jsonBytes, err := json.Marshal(ev)
	if err != nil {
		s.log.WithField("url", ev.URL).Errorf("Failed to marshal event to JSON: %v", err)
		return
	}
	if _, err := s.file.Write(append(jsonBytes, '\n')); err != nil {
		s.log.WithField("url", ev.URL).Errorf("Failed to write to JSONL file: %v", err)
	}
}

// Close syncs and closes the file
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	s.log.Debug("Syncing and closing JSONL report")
	syncErr := s.file.Sync()
	closeErr := s.file.Close()
	s.file = nil
	if err := errors.Join(syncErr, closeErr); err != nil {
		return fmt.Errorf("%w: closing report file '%s': %w", utils.ErrFilesystem, s.path, err)
	}
	return nil
}

// MultiSink fans events out to several sinks
type MultiSink []Sink

// Record implements Sink
func (m MultiSink) Record(ev Event) {
	for _, s := range m {
		s.Record(ev)
	}
}

// Close closes every sink and joins their errors
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
