// Package bus carries typed, prioritized notifications between agents
// through per-agent outbox and inbox queues.
//
// A message is sent into its sender's outbox and only becomes visible to
// the recipient after Deliver moves it into the recipient's inbox. Moving,
// not copying, is what makes delivery exactly-once and Deliver idempotent:
// a delivered message no longer exists in any outbox. Queues are persisted
// as JSON documents so a session can be inspected or resumed.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"swarm/pkg/logx"
	"swarm/pkg/proto"
	"swarm/pkg/utils"
)

// ErrWaitTimeout is returned when WaitFor gives up before a matching
// message arrives.
var ErrWaitTimeout = errors.New("bus: wait timed out")

// pollInterval is how often WaitFor re-reads the inbox. This is the
// system's only blocking primitive; no lock is held between polls.
const pollInterval = 2 * time.Second

// Bus is a session-scoped message bus.
type Bus struct {
	dir    string
	logger *logx.Logger
	locks  map[string]*sync.Mutex
	locksM sync.Mutex
}

// New creates a bus persisting its queues under dir.
func New(dir string) (*Bus, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bus directory %s: %w", dir, err)
	}
	return &Bus{
		dir:    dir,
		logger: logx.NewLogger("bus"),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func (b *Bus) queueLock(name string) *sync.Mutex {
	b.locksM.Lock()
	defer b.locksM.Unlock()

	mu, ok := b.locks[name]
	if !ok {
		mu = &sync.Mutex{}
		b.locks[name] = mu
	}
	return mu
}

func (b *Bus) queuePath(kind, agentID string) string {
	return filepath.Join(b.dir, fmt.Sprintf("%s_%s.json", kind, utils.SanitizeIdentifier(agentID)))
}

func (b *Bus) readQueue(path string) ([]*proto.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read queue %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var msgs []*proto.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to parse queue %s: %w", path, err)
	}
	return msgs, nil
}

func (b *Bus) writeQueue(path string, msgs []*proto.Message) error {
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal queue %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write queue %s: %w", path, err)
	}
	return nil
}

// Send places a message in the sender's outbox and returns its ID.
func (b *Bus) Send(from, to string, msgType proto.MsgType, subject string, body map[string]any, priority proto.Priority) (string, error) {
	msg := proto.NewMessage(msgType, from, to)
	msg.Subject = subject
	if body != nil {
		msg.Body = body
	}
	if priority != "" {
		msg.Priority = priority
	}
	if err := msg.Validate(); err != nil {
		return "", fmt.Errorf("invalid message: %w", err)
	}

	outbox := b.queuePath("outbox", from)
	mu := b.queueLock(outbox)
	mu.Lock()
	defer mu.Unlock()

	msgs, err := b.readQueue(outbox)
	if err != nil {
		return "", err
	}
	msgs = append(msgs, msg)
	if err := b.writeQueue(outbox, msgs); err != nil {
		return "", err
	}

	b.logger.Debug("Queued message %s: %s -> %s (%s)", msg.ID, from, to, msgType)
	return msg.ID, nil
}

// Deliver moves every outbox message into its recipient's inbox and returns
// the number of messages moved. Each outbox is drained atomically; a message
// already moved cannot be delivered again.
func (b *Bus) Deliver() (int, error) {
	pattern := filepath.Join(b.dir, "outbox_*.json")
	outboxes, err := filepath.Glob(pattern)
	if err != nil {
		return 0, fmt.Errorf("failed to list outboxes: %w", err)
	}

	delivered := 0
	for _, outbox := range outboxes {
		n, err := b.drainOutbox(outbox)
		delivered += n
		if err != nil {
			return delivered, err
		}
	}
	return delivered, nil
}

func (b *Bus) drainOutbox(outbox string) (int, error) {
	mu := b.queueLock(outbox)
	mu.Lock()
	defer mu.Unlock()

	msgs, err := b.readQueue(outbox)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	// Group by recipient so each inbox is rewritten once, in stable order.
	byRecipient := make(map[string][]*proto.Message)
	for _, msg := range msgs {
		byRecipient[msg.To] = append(byRecipient[msg.To], msg)
	}
	recipients := make([]string, 0, len(byRecipient))
	for to := range byRecipient {
		recipients = append(recipients, to)
	}
	sort.Strings(recipients)

	moved := make(map[string]bool, len(msgs))
	delivered := 0
	for _, to := range recipients {
		batch := byRecipient[to]
		if err := b.appendInbox(to, batch); err != nil {
			// Shrink the outbox to the undelivered remainder so a retry
			// cannot duplicate messages that already reached an inbox.
			b.requeue(outbox, msgs, moved)
			return delivered, err
		}
		for _, msg := range batch {
			moved[msg.ID] = true
		}
		delivered += len(batch)
	}

	// Only after every inbox write succeeds does the outbox empty.
	if err := b.writeQueue(outbox, nil); err != nil {
		return delivered, err
	}

	b.logger.Debug("Delivered %d messages from %s", delivered, filepath.Base(outbox))
	return delivered, nil
}

func (b *Bus) appendInbox(to string, batch []*proto.Message) error {
	inbox := b.queuePath("inbox", to)
	mu := b.queueLock(inbox)
	mu.Lock()
	defer mu.Unlock()

	existing, err := b.readQueue(inbox)
	if err != nil {
		return err
	}
	return b.writeQueue(inbox, append(existing, batch...))
}

func (b *Bus) requeue(outbox string, msgs []*proto.Message, moved map[string]bool) {
	remainder := make([]*proto.Message, 0, len(msgs))
	for _, msg := range msgs {
		if !moved[msg.ID] {
			remainder = append(remainder, msg)
		}
	}
	if err := b.writeQueue(outbox, remainder); err != nil {
		b.logger.Warn("Failed to requeue %s after delivery error: %v", filepath.Base(outbox), err)
	}
}

// Unread returns the recipient's unread messages ordered by priority
// (high first) then timestamp ascending within a tier.
func (b *Bus) Unread(agentID string) ([]*proto.Message, error) {
	inbox := b.queuePath("inbox", agentID)
	mu := b.queueLock(inbox)
	mu.Lock()
	defer mu.Unlock()

	msgs, err := b.readQueue(inbox)
	if err != nil {
		return nil, err
	}

	unread := make([]*proto.Message, 0, len(msgs))
	for _, msg := range msgs {
		if !msg.Read {
			unread = append(unread, msg)
		}
	}
	sort.SliceStable(unread, func(i, j int) bool {
		ri, rj := unread[i].Priority.Rank(), unread[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return unread[i].Timestamp.Before(unread[j].Timestamp)
	})
	return unread, nil
}

// MarkRead flags one inbox message as read. Messages are immutable after
// delivery except for this flag.
func (b *Bus) MarkRead(agentID, messageID string) error {
	inbox := b.queuePath("inbox", agentID)
	mu := b.queueLock(inbox)
	mu.Lock()
	defer mu.Unlock()

	msgs, err := b.readQueue(inbox)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if msg.ID == messageID {
			msg.Read = true
			return b.writeQueue(inbox, msgs)
		}
	}
	return fmt.Errorf("message %s not in inbox of %s", messageID, agentID)
}

// WaitFor polls the agent's unread messages until one with the given type
// arrives, the timeout elapses, or ctx is cancelled. A type prefix ending
// in "." matches the whole namespace (e.g. "review." matches
// "review.approved"). The matched message is marked read before returning.
func (b *Bus) WaitFor(ctx context.Context, agentID string, msgType proto.MsgType, timeout time.Duration) (*proto.Message, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		msg, err := b.findUnread(agentID, msgType)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			if err := b.MarkRead(agentID, msg.ID); err != nil {
				return nil, err
			}
			return msg, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no %s message for %s within %s: %w", msgType, agentID, timeout, ErrWaitTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for %s cancelled: %w", msgType, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (b *Bus) findUnread(agentID string, msgType proto.MsgType) (*proto.Message, error) {
	unread, err := b.Unread(agentID)
	if err != nil {
		return nil, err
	}
	for _, msg := range unread {
		if matchesType(msg.Type, msgType) {
			return msg, nil
		}
	}
	return nil, nil
}

func matchesType(have, want proto.MsgType) bool {
	if strings.HasSuffix(string(want), ".") {
		return strings.HasPrefix(string(have), string(want))
	}
	return have == want
}

// PendingOutbox returns the number of undelivered messages, for tests and
// the status snapshot.
func (b *Bus) PendingOutbox() (int, error) {
	outboxes, err := filepath.Glob(filepath.Join(b.dir, "outbox_*.json"))
	if err != nil {
		return 0, fmt.Errorf("failed to list outboxes: %w", err)
	}
	total := 0
	for _, outbox := range outboxes {
		mu := b.queueLock(outbox)
		mu.Lock()
		msgs, err := b.readQueue(outbox)
		mu.Unlock()
		if err != nil {
			return 0, err
		}
		total += len(msgs)
	}
	return total, nil
}
