package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"calmh.dev/tripd/internal/location"
	"calmh.dev/tripd/internal/trip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/thejerf/suture/v4"
)

var (
	stateIncomingConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "state",
		Name:      "incoming_connections_total",
	}, []string{"addr"})
	stateSentMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "state",
		Name:      "sent_messages_total",
	}, []string{"addr"})
	stateCurrentConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tripd",
		Subsystem: "state",
		Name:      "current_connections",
	}, []string{"addr"})
)

type authorizer interface {
	Authorization() (location.Authorization, bool)
}

// stateMessage is one line of the state stream.
type stateMessage struct {
	Authorization string `json:"authorization"`
	trip.Snapshot
}

// stateForwarder writes every snapshot as a JSON line to all connected
// clients. New clients get the latest snapshot immediately.
type stateForwarder struct {
	input <-chan trip.Snapshot
	auth  authorizer
	addr  string
	conns []net.Conn
	last  []byte
	mut   sync.Mutex
}

func broadcastState(input <-chan trip.Snapshot, auth authorizer, addr string) suture.Service {
	sup := suture.NewSimple("state-broadcast-supervisor/" + addr)
	f := &stateForwarder{
		input: input,
		auth:  auth,
		addr:  addr,
	}
	sup.Add(f)
	l := &stateListener{
		addr:      addr,
		forwarder: f,
	}
	sup.Add(l)
	return sup
}

func (f *stateForwarder) String() string {
	return fmt.Sprintf("state-forwarder(%s)@%p", f.addr, f)
}

func (f *stateForwarder) encode(snap trip.Snapshot) ([]byte, error) {
	msg := stateMessage{Authorization: "unknown", Snapshot: snap}
	if status, ok := f.auth.Authorization(); ok {
		msg.Authorization = status.String()
	}
	bs, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(bs, '\n'), nil
}

func (f *stateForwarder) addConn(conn net.Conn) {
	f.mut.Lock()
	defer f.mut.Unlock()
	if f.last != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		if _, err := conn.Write(f.last); err != nil {
			_ = conn.Close()
			return
		}
	}
	f.conns = append(f.conns, conn)
	stateCurrentConnections.WithLabelValues(f.addr).Set(float64(len(f.conns)))
}

func (f *stateForwarder) Serve(ctx context.Context) error {
	stateSentMessages.WithLabelValues(f.addr)
	stateCurrentConnections.WithLabelValues(f.addr)

	defer func() {
		f.mut.Lock()
		for _, conn := range f.conns {
			_ = conn.Close()
		}
		f.conns = nil
		f.mut.Unlock()
	}()

	for {
		select {
		case snap := <-f.input:
			line, err := f.encode(snap)
			if err != nil {
				return fmt.Errorf("encode state: %w", err)
			}
			f.mut.Lock()
			f.last = line
			for i := 0; i < len(f.conns); i++ {
				_ = f.conns[i].SetWriteDeadline(time.Now().Add(time.Second))
				if _, err := f.conns[i].Write(line); err != nil {
					_ = f.conns[i].Close()
					f.conns = append(f.conns[:i], f.conns[i+1:]...)
					i--
					continue
				}
				stateSentMessages.WithLabelValues(f.addr).Inc()
			}
			stateCurrentConnections.WithLabelValues(f.addr).Set(float64(len(f.conns)))
			f.mut.Unlock()

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type stateListener struct {
	addr      string
	forwarder *stateForwarder
}

func (t *stateListener) String() string {
	return fmt.Sprintf("state-listener(%s)@%p", t.addr, t)
}

func (t *stateListener) Serve(ctx context.Context) error {
	l, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}
	defer l.Close()

	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	stateIncomingConnections.WithLabelValues(t.addr)

	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}

		t.forwarder.addConn(conn)
		stateIncomingConnections.WithLabelValues(t.addr).Inc()
	}
}
