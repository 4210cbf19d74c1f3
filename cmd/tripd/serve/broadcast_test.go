package serve

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"

	"calmh.dev/tripd/internal/location"
	"calmh.dev/tripd/internal/trip"
)

type staticAuth struct {
	status location.Authorization
	known  bool
}

func (a staticAuth) Authorization() (location.Authorization, bool) {
	return a.status, a.known
}

func readState(t *testing.T, r *bufio.Reader) stateMessage {
	t.Helper()
	line, err := r.ReadBytes('\n')
	if err != nil {
		t.Fatal(err)
	}
	var msg stateMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestStateForwarder(t *testing.T) {
	input := make(chan trip.Snapshot)
	f := &stateForwarder{
		input: input,
		auth:  staticAuth{location.AuthorizedAlways, true},
		addr:  "test",
	}

	client, server := net.Pipe()
	defer client.Close()
	f.addConn(server)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Serve(ctx) }()

	input <- trip.Snapshot{Driving: true, DistanceMeters: 1234}

	msg := readState(t, bufio.NewReader(client))
	if msg.Authorization != "always" {
		t.Errorf("authorization %q", msg.Authorization)
	}
	if !msg.Driving || msg.DistanceMeters != 1234 {
		t.Errorf("snapshot %+v", msg.Snapshot)
	}

	// Late joiners get the latest state straight away.
	late, lateServer := net.Pipe()
	defer late.Close()
	done := make(chan struct{})
	go func() {
		f.addConn(lateServer)
		close(done)
	}()
	if msg := readState(t, bufio.NewReader(late)); msg.DistanceMeters != 1234 {
		t.Errorf("late joiner got %+v", msg.Snapshot)
	}
	<-done
}

func TestStateEncodeUnknownAuthorization(t *testing.T) {
	f := &stateForwarder{auth: staticAuth{}}
	line, err := f.encode(trip.Snapshot{})
	if err != nil {
		t.Fatal(err)
	}
	var msg stateMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Authorization != "unknown" {
		t.Errorf("authorization %q", msg.Authorization)
	}
}
