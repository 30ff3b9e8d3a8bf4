package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func ref(id int) MessageRef { return MessageRef{ChatID: 100, MessageID: id} }

func TestRecordTurn_RejectsDuplicate(t *testing.T) {
	s := NewStore(10)
	_, err := s.RecordTurn(ref(1), "hello", "", nil)
	require.NoError(t, err)
	_, err = s.RecordTurn(ref(1), "again", "", nil)
	require.ErrorIs(t, err, ErrTurnExists)

	turn, ok := s.Lookup(ref(1))
	require.True(t, ok)
	require.Equal(t, "hello", turn.Prompt)
	require.Equal(t, StatusPending, turn.Status)
	require.Nil(t, turn.Parent)
}

func TestMessageRefsAreChatScoped(t *testing.T) {
	s := NewStore(10)
	_, err := s.RecordTurn(MessageRef{ChatID: 1, MessageID: 5}, "a", "", nil)
	require.NoError(t, err)
	_, err = s.RecordTurn(MessageRef{ChatID: 2, MessageID: 5}, "b", "", nil)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())
}

func TestBindReplyAndResolveParent(t *testing.T) {
	s := NewStore(10)
	_, err := s.RecordTurn(ref(1), "q", "", nil)
	require.NoError(t, err)
	require.NoError(t, s.BindReply(ref(1), ref(2)))

	src, ok := s.ResolveParent(ref(2))
	require.True(t, ok)
	require.Equal(t, ref(1), src)

	_, ok = s.ResolveParent(ref(3))
	require.False(t, ok)

	require.ErrorIs(t, s.BindReply(ref(42), ref(43)), ErrTurnMissing)
}

func TestAttachResponse_IsIdempotentUpsert(t *testing.T) {
	s := NewStore(10)
	s.AttachResponse(ref(7), "synthesized")
	turn, ok := s.Lookup(ref(7))
	require.True(t, ok)
	require.Equal(t, StatusAnswered, turn.Status)
	require.Equal(t, "synthesized", turn.Response)

	s.AttachResponse(ref(7), "synthesized")
	require.Equal(t, 1, s.Len())
}

func TestChainFor_ChronologicalOrder(t *testing.T) {
	s := NewStore(10)
	var parent *MessageRef
	for i := 1; i <= 3; i++ {
		_, err := s.RecordTurn(ref(i*10), fmt.Sprintf("q%d", i), "", parent)
		require.NoError(t, err)
		require.NoError(t, s.BindReply(ref(i*10), ref(i*10+1)))
		s.AttachResponse(ref(i*10), fmt.Sprintf("a%d", i))
		p := ref(i * 10)
		parent = &p
	}

	chain := s.ChainFor(ref(30))
	require.Len(t, chain, 3)
	require.Equal(t, "q1", chain[0].Prompt)
	require.Equal(t, "q2", chain[1].Prompt)
	require.Equal(t, "q3", chain[2].Prompt)
	require.Nil(t, chain[0].Parent)
}

// Eleven sequential turns with a maximum of ten: the oldest is discarded
// once the eleventh answer lands.
func TestChainFor_EvictsOldestAfterMax(t *testing.T) {
	s := NewStore(10)
	var parent *MessageRef
	for i := 1; i <= 11; i++ {
		_, err := s.RecordTurn(ref(i), fmt.Sprintf("q%d", i), "", parent)
		require.NoError(t, err)
		require.NoError(t, s.BindReply(ref(i), ref(1000+i)))
		s.AttachResponse(ref(i), fmt.Sprintf("a%d", i))
		p := ref(i)
		parent = &p
	}

	chain := s.ChainFor(ref(11))
	require.Len(t, chain, 10)
	require.Equal(t, "q2", chain[0].Prompt)
	require.Nil(t, chain[0].Parent)
	require.Equal(t, "q11", chain[9].Prompt)

	_, ok := s.Lookup(ref(1))
	require.False(t, ok)
	_, ok = s.ResolveParent(ref(1001))
	require.False(t, ok)
	require.Equal(t, 10, s.Len())
}

func TestEvictIfOversize_NoopWithinLimit(t *testing.T) {
	s := NewStore(3)
	_, _ = s.RecordTurn(ref(1), "a", "", nil)
	p := ref(1)
	_, _ = s.RecordTurn(ref(2), "b", "", &p)
	require.Equal(t, 0, s.EvictIfOversize(ref(2)))
	require.Len(t, s.ChainFor(ref(2)), 2)
}

func TestChainFor_TerminatesOnCycle(t *testing.T) {
	s := NewStore(5)
	a, b := ref(1), ref(2)
	_, _ = s.RecordTurn(a, "a", "", &b)
	_, _ = s.RecordTurn(b, "b", "", &a)

	chain := s.ChainFor(a)
	require.Len(t, chain, 2)
	require.Equal(t, 0, s.EvictIfOversize(a))
}

func TestChainFor_StopsAtEvictedBranchParent(t *testing.T) {
	s := NewStore(2)
	_, _ = s.RecordTurn(ref(1), "root", "", nil)
	p1 := ref(1)
	_, _ = s.RecordTurn(ref(2), "left", "", &p1)
	_, _ = s.RecordTurn(ref(3), "right", "", &p1)
	p2 := ref(2)
	_, _ = s.RecordTurn(ref(4), "left-2", "", &p2)
	s.AttachResponse(ref(4), "done")

	_, ok := s.Lookup(ref(1))
	require.False(t, ok)
	chain := s.ChainFor(ref(3))
	require.Len(t, chain, 1)
	require.Equal(t, "right", chain[0].Prompt)
}

func TestReviseTurnAndMarkFailed(t *testing.T) {
	s := NewStore(10)
	_, _ = s.RecordTurn(ref(1), "old", "", nil)
	require.NoError(t, s.BindReply(ref(1), ref(2)))
	s.AttachResponse(ref(1), "answer")

	turn, err := s.ReviseTurn(ref(1), "new", "http://img")
	require.NoError(t, err)
	require.Equal(t, "new", turn.Prompt)
	require.Equal(t, StatusPending, turn.Status)
	require.Empty(t, turn.Response)
	require.Equal(t, ref(2), turn.Bot)

	s.MarkFailed(ref(1))
	turn, _ = s.Lookup(ref(1))
	require.Equal(t, StatusFailed, turn.Status)

	_, err = s.ReviseTurn(ref(9), "x", "")
	require.ErrorIs(t, err, ErrTurnMissing)
}

func TestLookup_ReturnsCopy(t *testing.T) {
	s := NewStore(10)
	p := ref(1)
	_, _ = s.RecordTurn(ref(1), "root", "", nil)
	_, _ = s.RecordTurn(ref(2), "child", "", &p)

	turn, _ := s.Lookup(ref(2))
	turn.Parent.MessageID = 99
	turn.Prompt = "mutated"

	again, _ := s.Lookup(ref(2))
	require.Equal(t, "child", again.Prompt)
	require.Equal(t, 1, again.Parent.MessageID)
}
