package web

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/time/rate"
)

// visitorLimiter throttles admin actions per client address. Each admin
// action can trigger a batch of calls against the rate-limited remote API.
type visitorLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newVisitorLimiter(perMinute, burst int) *visitorLimiter {
	return &visitorLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
	}
}

func (vl *visitorLimiter) get(ip string) *rate.Limiter {
	vl.mu.Lock()
	defer vl.mu.Unlock()

	now := time.Now()
	for k, v := range vl.visitors {
		if now.Sub(v.lastSeen) > 10*time.Minute {
			delete(vl.visitors, k)
		}
	}

	v, ok := vl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(vl.limit, vl.burst)}
		vl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Limit wraps an httprouter handle.
func (vl *visitorLimiter) Limit(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !vl.get(ip).Allow() {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r, ps)
	}
}
