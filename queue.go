package testcord

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// sentQueue accumulates the messages the bot under test sends, in the order it sent
// them, until a verification consumes them
type sentQueue struct {
	mu   sync.Mutex
	msgs []*discordgo.Message
}

func newSentQueue() (q *sentQueue) {
	return &sentQueue{msgs: []*discordgo.Message{}}
}

func (q *sentQueue) push(msg *discordgo.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.msgs = append(q.msgs, msg)
}

// pop removes and returns the oldest message
func (q *sentQueue) pop() (msg *discordgo.Message, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.msgs) == 0 {
		return nil, false
	}

	msg = q.msgs[0]
	q.msgs = q.msgs[1:]

	return msg, true
}

// peek returns the oldest message without removing it
func (q *sentQueue) peek() (msg *discordgo.Message, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.msgs) == 0 {
		return nil, false
	}

	return q.msgs[0], true
}

func (q *sentQueue) size() (n int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.msgs)
}

func (q *sentQueue) snapshot() (msgs []*discordgo.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return append([]*discordgo.Message{}, q.msgs...)
}

func (q *sentQueue) drain() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.msgs = q.msgs[:0]
}
