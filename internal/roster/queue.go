package roster

import "sync"

// ChatMessage is one inbound chat message.
type ChatMessage struct {
	From string
	Type string
	Body string
}

// MessageQueue is a FIFO of inbound chat messages. Push happens on the
// worker, Pop on the application goroutine.
type MessageQueue struct {
	mu   sync.Mutex
	msgs []ChatMessage
}

func (q *MessageQueue) Push(m ChatMessage) {
	q.mu.Lock()
	q.msgs = append(q.msgs, m)
	q.mu.Unlock()
}

// Pop removes the oldest message.
func (q *MessageQueue) Pop() (ChatMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.msgs) == 0 {
		return ChatMessage{}, false
	}
	m := q.msgs[0]
	q.msgs[0] = ChatMessage{}
	q.msgs = q.msgs[1:]
	return m, true
}

func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}
