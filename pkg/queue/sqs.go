package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// CommandRunner executes an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecCommandRunner implements CommandRunner using os/exec.
type ExecCommandRunner struct{}

// Run executes a command and returns its stdout as bytes.
func (r *ExecCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if ok := errors.As(err, &exitErr); ok {
			return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, exitErr.Stderr)
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// SQSSource reads queue backlogs through the aws CLI, which keeps the
// backend credential handling outside this process. Queue URLs are cached
// per queue name and refreshed when a lookup misses.
type SQSSource struct {
	Profile  string
	Region   string
	Patterns []string // DLQ name patterns; empty = DefaultDLQPatterns

	runner CommandRunner

	mu   sync.Mutex
	urls map[string]string // queue name -> queue URL
}

// NewSQSSource creates an SQSSource for the given profile and region.
func NewSQSSource(profile, region string, patterns []string) *SQSSource {
	return &SQSSource{
		Profile:  profile,
		Region:   region,
		Patterns: patterns,
		runner:   &ExecCommandRunner{},
		urls:     make(map[string]string),
	}
}

// SetRunner replaces the command runner. Tests use this to stub the CLI.
func (s *SQSSource) SetRunner(r CommandRunner) { s.runner = r }

func (s *SQSSource) baseArgs() []string {
	args := []string{"sqs"}
	if s.Profile != "" {
		args = append(args, "--profile", s.Profile)
	}
	if s.Region != "" {
		args = append(args, "--region", s.Region)
	}
	return append(args, "--output", "json")
}

// ListQueues lists all queues in the account and returns the names matching
// the DLQ patterns. The name→URL mapping is cached for PendingCount.
func (s *SQSSource) ListQueues(ctx context.Context) ([]string, error) {
	args := append(s.baseArgs(), "list-queues")
	out, err := s.runner.Run(ctx, "aws", args...)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}

	var resp struct {
		QueueUrls []string `json:"QueueUrls"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("parse list-queues output: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, url := range resp.QueueUrls {
		name := url[strings.LastIndex(url, "/")+1:]
		if !IsDLQ(name, s.Patterns) {
			continue
		}
		s.urls[name] = url
		names = append(names, name)
	}
	return names, nil
}

// PendingCount returns the approximate number of messages on the queue.
func (s *SQSSource) PendingCount(ctx context.Context, queueID string) (int, error) {
	s.mu.Lock()
	url, ok := s.urls[queueID]
	s.mu.Unlock()
	if !ok {
		// Cache miss: refresh the listing once before giving up.
		if _, err := s.ListQueues(ctx); err != nil {
			return 0, err
		}
		s.mu.Lock()
		url, ok = s.urls[queueID]
		s.mu.Unlock()
		if !ok {
			return 0, fmt.Errorf("unknown queue %s", queueID)
		}
	}

	args := append(s.baseArgs(), "get-queue-attributes",
		"--queue-url", url, "--attribute-names", "ApproximateNumberOfMessages")
	out, err := s.runner.Run(ctx, "aws", args...)
	if err != nil {
		return 0, fmt.Errorf("get attributes for %s: %w", queueID, err)
	}

	var resp struct {
		Attributes map[string]string `json:"Attributes"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return 0, fmt.Errorf("parse attributes for %s: %w", queueID, err)
	}
	n, err := strconv.Atoi(resp.Attributes["ApproximateNumberOfMessages"])
	if err != nil {
		return 0, fmt.Errorf("parse message count for %s: %w", queueID, err)
	}
	return n, nil
}

// StaticSource serves fixed counts; used by tests and local demos.
type StaticSource struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewStaticSource creates a StaticSource over the given counts.
func NewStaticSource(counts map[string]int) *StaticSource {
	c := make(map[string]int, len(counts))
	for k, v := range counts {
		c[k] = v
	}
	return &StaticSource{counts: c}
}

// Set updates a queue's pending count.
func (s *StaticSource) Set(queueID string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[queueID] = count
}

// ListQueues returns all configured queue IDs.
func (s *StaticSource) ListQueues(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.counts))
	for name := range s.counts {
		names = append(names, name)
	}
	return names, nil
}

// PendingCount returns the configured count for the queue.
func (s *StaticSource) PendingCount(_ context.Context, queueID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.counts[queueID]
	if !ok {
		return 0, fmt.Errorf("unknown queue %s", queueID)
	}
	return n, nil
}

var (
	_ Source = (*SQSSource)(nil)
	_ Source = (*StaticSource)(nil)
)
