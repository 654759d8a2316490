package pool

import (
	"container/heap"

	"github.com/bramblehttp/httpconn/connection"
)

// loadHeap orders live connections by the score a saturated pool uses
// to pick which one to hand out next: working requests, plus a penalty
// for a connection that is no longer open. It is rebuilt from scratch
// on each pick rather than kept incrementally consistent, since pool
// membership changes (new connection opened, idle connection reused)
// happen far more often than saturated picks do.
type loadItem struct {
	conn     *connection.Conn
	score    int64
	tieBreak uint64
}

type loadHeap []loadItem

func (h loadHeap) Len() int { return len(h) }

func (h loadHeap) Less(i, j int) bool {
	if h[i].score == h[j].score {
		return h[i].tieBreak < h[j].tieBreak
	}
	return h[i].score < h[j].score
}

func (h loadHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *loadHeap) Push(x any)   { *h = append(*h, x.(loadItem)) }
func (h *loadHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// pickLeastLoaded returns the connection minimizing
// working_requests() + (is_open() ? 0 : 1), or nil if conns is empty.
// Ties are broken using tieBreaks, one pseudo-random value per
// candidate, rather than list order, so that a saturated pool spreads
// load evenly across tied connections instead of favoring whichever
// was created first.
func pickLeastLoaded(conns []*connection.Conn, tieBreaks []uint64) *connection.Conn {
	if len(conns) == 0 {
		return nil
	}
	h := make(loadHeap, len(conns))
	for i, c := range conns {
		score := int64(c.WorkingRequests())
		if !c.IsOpen() {
			score++
		}
		h[i] = loadItem{conn: c, score: score, tieBreak: tieBreaks[i]}
	}
	heap.Init(&h)
	return h[0].conn
}
