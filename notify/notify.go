package notify

import (
	"fmt"
	"sync"
)

// Sink delivers race messages to the chat transport. The engine never talks
// to Discord directly; the gateway in front of it does.
type Sink interface {
	// OpenThread creates a private thread under the given channel and
	// returns its id.
	OpenThread(channelID, name string) (string, error)
	// Send posts a message into a previously opened thread.
	Send(threadID, content string) error
	// Announce posts a message into a plain channel.
	Announce(channelID, content string) error
}

// Noop discards everything. Used when no gateway is configured.
type Noop struct{}

func (Noop) OpenThread(channelID, name string) (string, error) { return "noop-" + channelID, nil }
func (Noop) Send(threadID, content string) error               { return nil }
func (Noop) Announce(channelID, content string) error          { return nil }

// Recorder captures outbound messages for assertions in tests.
type Recorder struct {
	mu sync.Mutex

	Threads  []OpenedThread
	Messages []SentMessage

	// FailOpenThread makes the next OpenThread call return this error.
	FailOpenThread error
}

type OpenedThread struct {
	ChannelID string
	Name      string
	ThreadID  string
}

type SentMessage struct {
	Target  string
	Content string
}

func (r *Recorder) OpenThread(channelID, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailOpenThread != nil {
		err := r.FailOpenThread
		r.FailOpenThread = nil
		return "", err
	}
	id := fmt.Sprintf("thread-%d-%s", len(r.Threads)+1, name)
	r.Threads = append(r.Threads, OpenedThread{ChannelID: channelID, Name: name, ThreadID: id})
	return id, nil
}

func (r *Recorder) Send(threadID, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, SentMessage{Target: threadID, Content: content})
	return nil
}

func (r *Recorder) Announce(channelID, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, SentMessage{Target: channelID, Content: content})
	return nil
}

// SentTo returns the contents of every message delivered to the target.
func (r *Recorder) SentTo(target string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.Messages {
		if m.Target == target {
			out = append(out, m.Content)
		}
	}
	return out
}
