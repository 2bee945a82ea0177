package poker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

type recordingPublisher struct {
	mu        sync.Mutex
	published []Snapshot
	sent      map[string][]Snapshot
	closed    []Departure
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{sent: make(map[string][]Snapshot)}
}

func (p *recordingPublisher) Publish(snap Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, snap)
}

func (p *recordingPublisher) SendTo(voter string, snap Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent[voter] = append(p.sent[voter], snap)
}

func (p *recordingPublisher) Close(voter string, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, Departure{Name: voter, Generation: gen})
}

func (p *recordingPublisher) closedChannels() []Departure {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Departure(nil), p.closed...)
}

func (p *recordingPublisher) publishedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func dispatch(t *testing.T, d *Dispatcher, typ RequestType, voter string, vote int, info string) Ack {
	t.Helper()
	ack, err := d.Dispatch(context.Background(), mustRequest(t, typ, voter, vote, info))
	if err != nil {
		t.Fatalf("Dispatch(%s, %s): %v", typ, voter, err)
	}
	return ack
}

func TestDispatchPublishesMutations(t *testing.T) {
	pub := newRecordingPublisher()
	d := NewDispatcher(NewSession(Options{}), pub)

	ack := dispatch(t, d, RequestJoin, "alice", NoVoteValue, "")
	if ack.Message != "OK" || !ack.Changed {
		t.Errorf("join ack = %+v", ack)
	}
	dispatch(t, d, RequestStartVote, "alice", NoVoteValue, "")

	if got := pub.publishedCount(); got != 2 {
		t.Fatalf("published %d snapshots, want 2", got)
	}
	if pub.published[1].Status != InProgress {
		t.Errorf("last published status = %v, want InProgress", pub.published[1].Status)
	}
}

func TestDispatchNoopDoesNotPublish(t *testing.T) {
	pub := newRecordingPublisher()
	d := NewDispatcher(NewSession(Options{}), pub)
	dispatch(t, d, RequestJoin, "alice", NoVoteValue, "")

	dispatch(t, d, RequestVote, "alice", 3, "")
	dispatch(t, d, RequestEndVote, "alice", NoVoteValue, "")

	if got := pub.publishedCount(); got != 1 {
		t.Errorf("published %d snapshots, want only the join", got)
	}
}

func TestDispatchRefreshSendsToRequester(t *testing.T) {
	pub := newRecordingPublisher()
	d := NewDispatcher(NewSession(Options{}), pub)
	dispatch(t, d, RequestJoin, "alice", NoVoteValue, "")

	ack := dispatch(t, d, RequestRefresh, "alice", NoVoteValue, "")
	if ack.Changed {
		t.Error("refresh ack reported a change")
	}
	if got := len(pub.sent["alice"]); got != 1 {
		t.Errorf("refresh sent %d snapshots to alice, want 1", got)
	}
	if got := pub.publishedCount(); got != 1 {
		t.Errorf("refresh published to everyone: count %d", got)
	}
}

func TestDispatchRejectsMalformed(t *testing.T) {
	pub := newRecordingPublisher()
	d := NewDispatcher(NewSession(Options{}), pub)

	bad := []Request{
		{Type: "bump", VoterName: "alice"},
		{Type: RequestJoin, VoterName: ""},
		{Type: RequestVote, VoterName: "alice", Vote: Card(42)},
	}
	for _, req := range bad {
		if _, err := d.Dispatch(context.Background(), req); !errors.Is(err, ErrMalformedRequest) {
			t.Errorf("Dispatch(%+v) = %v, want ErrMalformedRequest", req, err)
		}
	}
	if pub.publishedCount() != 0 {
		t.Error("malformed request was published")
	}
	if len(d.Snapshot().Voters) != 0 {
		t.Error("malformed request mutated the session")
	}
}

func TestDispatchCanceledContext(t *testing.T) {
	d := NewDispatcher(NewSession(Options{}), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Dispatch(ctx, mustRequest(t, RequestJoin, "alice", NoVoteValue, ""))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Dispatch with canceled ctx = %v, want context.Canceled", err)
	}
	if d.Joined("alice") {
		t.Error("canceled dispatch still joined alice")
	}
}

func TestDispatchConcurrentVotes(t *testing.T) {
	const voters = 20
	pub := newRecordingPublisher()
	d := NewDispatcher(NewSession(Options{}), pub)

	for i := 0; i < voters; i++ {
		dispatch(t, d, RequestJoin, fmt.Sprintf("voter-%02d", i), NoVoteValue, "")
	}
	dispatch(t, d, RequestStartVote, "voter-00", NoVoteValue, "")

	var wg sync.WaitGroup
	errs := make(chan error, voters)
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := NewRequest("vote", fmt.Sprintf("voter-%02d", i), i%MaxVote+1, "")
			if err != nil {
				errs <- err
				return
			}
			if _, err := d.Dispatch(context.Background(), req); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent vote failed: %v", err)
	}

	snap := d.Snapshot()
	for i, v := range snap.Voters {
		n, ok := v.Vote.Value()
		if !ok || n != i%MaxVote+1 {
			t.Errorf("%s vote = %d (%v), want %d", v.Name, n, ok, i%MaxVote+1)
		}
	}
}

func TestDispatchConcurrentVoteAndEnd(t *testing.T) {
	d := NewDispatcher(NewSession(Options{}), newRecordingPublisher())
	dispatch(t, d, RequestJoin, "alice", NoVoteValue, "")
	dispatch(t, d, RequestJoin, "bob", NoVoteValue, "")
	dispatch(t, d, RequestStartVote, "alice", NoVoteValue, "")

	vote := mustRequest(t, RequestVote, "bob", 5, "")
	end := mustRequest(t, RequestEndVote, "alice", NoVoteValue, "")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.Dispatch(context.Background(), vote)
	}()
	go func() {
		defer wg.Done()
		d.Dispatch(context.Background(), end)
	}()
	wg.Wait()

	snap := d.Snapshot()
	if snap.Status != Closed {
		t.Fatalf("status = %v, want Closed", snap.Status)
	}
	// Either the vote landed before the close and is averaged, or it arrived
	// after and was ignored; the snapshot must agree with itself.
	n, voted := voteOf(t, snap, "bob")
	switch {
	case voted && (n != 5 || snap.Average != 5):
		t.Errorf("bob voted %d but average is %d", n, snap.Average)
	case !voted && snap.Average != 0:
		t.Errorf("no votes but average is %d", snap.Average)
	}
}

func TestDispatcherConnectDisconnect(t *testing.T) {
	pub := newRecordingPublisher()
	d := NewDispatcher(NewSession(Options{}), pub)
	dispatch(t, d, RequestJoin, "alice", NoVoteValue, "")

	if _, err := d.Connect("ghost", 1); !errors.Is(err, ErrVoterNotFound) {
		t.Errorf("Connect(ghost) = %v, want ErrVoterNotFound", err)
	}

	gen, ok := d.Registration("alice")
	if !ok {
		t.Fatal("alice has no registration")
	}
	snap, err := d.Connect("alice", gen)
	if err != nil || !snap.Voters[0].Connected {
		t.Fatalf("Connect(alice) = %+v, %v", snap, err)
	}
	d.Disconnect("alice", gen)
	d.Disconnect("alice", gen)

	// join, connect, one disconnect.
	if got := pub.publishedCount(); got != 3 {
		t.Errorf("published %d snapshots, want 3", got)
	}
	if closed := pub.closedChannels(); len(closed) != 0 {
		t.Errorf("mark policy closed channels: %+v", closed)
	}
}

func TestDispatchDepartureClosesChannel(t *testing.T) {
	tests := []struct {
		name  string
		typ   RequestType
		voter string
		info  string
	}{
		{"leave", RequestLeave, "alice", ""},
		{"drop", RequestDropVoter, "bob", "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := newRecordingPublisher()
			d := NewDispatcher(NewSession(Options{}), pub)
			dispatch(t, d, RequestJoin, "alice", NoVoteValue, "")
			dispatch(t, d, RequestJoin, "bob", NoVoteValue, "")
			gen, _ := d.Registration("alice")

			dispatch(t, d, tt.typ, tt.voter, NoVoteValue, tt.info)

			closed := pub.closedChannels()
			if len(closed) != 1 || closed[0] != (Departure{Name: "alice", Generation: gen}) {
				t.Errorf("closed = %+v, want alice generation %d", closed, gen)
			}
		})
	}
}

func TestDisconnectRemovePolicyClosesChannel(t *testing.T) {
	pub := newRecordingPublisher()
	d := NewDispatcher(NewSession(Options{DisconnectPolicy: DisconnectRemove}), pub)
	dispatch(t, d, RequestJoin, "alice", NoVoteValue, "")
	gen, _ := d.Registration("alice")

	d.Disconnect("alice", gen)
	if d.Joined("alice") {
		t.Fatal("remove policy kept alice")
	}
	if closed := pub.closedChannels(); len(closed) != 1 || closed[0].Generation != gen {
		t.Errorf("closed = %+v", closed)
	}
}
