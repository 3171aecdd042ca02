package transport

import (
	"log"
	"sync"

	"parley/pkg/protocol"
)

// sendQueue holds outbound frames written while disconnected. Two priority
// classes: critical (subscribe-type frames that re-establish server-side
// state) and regular. Draining yields critical frames first, FIFO within
// each class.
type sendQueue struct {
	mu       sync.Mutex
	critical []*protocol.Envelope
	regular  []*protocol.Envelope
	limit    int
}

func newSendQueue(limit int) *sendQueue {
	return &sendQueue{limit: limit}
}

// push enqueues a frame into its priority class. When the class is full the
// oldest frame in that class is dropped with a log line so the queue cannot
// grow without bound during a long outage.
func (q *sendQueue) push(env *protocol.Envelope, critical bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if critical {
		if len(q.critical) >= q.limit {
			log.Printf("[Transport] critical queue full, dropping oldest %s frame", q.critical[0].Type)
			q.critical = q.critical[1:]
		}
		q.critical = append(q.critical, env)
		return
	}

	if len(q.regular) >= q.limit {
		log.Printf("[Transport] send queue full, dropping oldest %s frame", q.regular[0].Type)
		q.regular = q.regular[1:]
	}
	q.regular = append(q.regular, env)
}

// drain removes and returns all queued frames in flush order.
func (q *sendQueue) drain() []*protocol.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*protocol.Envelope, 0, len(q.critical)+len(q.regular))
	out = append(out, q.critical...)
	out = append(out, q.regular...)
	q.critical = nil
	q.regular = nil
	return out
}

// requeue puts a frame back at the head of its class after a failed write,
// preserving its position relative to later frames.
func (q *sendQueue) requeue(env *protocol.Envelope, critical bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if critical {
		q.critical = append([]*protocol.Envelope{env}, q.critical...)
		return
	}
	q.regular = append([]*protocol.Envelope{env}, q.regular...)
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.critical) + len(q.regular)
}
