package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_CanTransition(t *testing.T) {
	all := []Status{StatusPending, StatusPaid, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}

	allowed := map[Status][]Status{
		StatusPending:    {StatusPaid, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled},
		StatusPaid:       {StatusProcessing, StatusShipped, StatusDelivered},
		StatusProcessing: {StatusShipped, StatusDelivered},
		StatusShipped:    {StatusDelivered},
		StatusDelivered:  nil,
		StatusCancelled:  nil,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}

	assert.False(t, Status("Lost").CanTransition(StatusPaid))
	assert.False(t, StatusPending.CanTransition(Status("Lost")))
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusShipped.Terminal())
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("shipped")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, st)

	st, err = ParseStatus(" Cancelled ")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, st)

	_, err = ParseStatus("returned")
	var stErr *InvalidStatusError
	require.ErrorAs(t, err, &stErr)
	assert.Equal(t, "returned", stErr.Value)
}

func TestFilter_Normalize(t *testing.T) {
	f := Filter{}.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, DefaultPageSize, f.PageSize)
	assert.Equal(t, 0, f.Offset())

	f = Filter{Page: 3, PageSize: 500}.Normalize()
	assert.Equal(t, MaxPageSize, f.PageSize)
	assert.Equal(t, 200, f.Offset())
}

func TestItem_LineTotal(t *testing.T) {
	it := Item{UnitPrice: d("19.99"), Quantity: 3}
	assertDecimal(t, "59.97", it.LineTotal())
}

func TestOrder_VisibleTo(t *testing.T) {
	tests := []struct {
		name  string
		owner string
		keyID string
		admin bool
		want  bool
	}{
		{name: "owner", owner: "k1", keyID: "k1", want: true},
		{name: "other key", owner: "k1", keyID: "k2", want: false},
		{name: "admin", owner: "k1", keyID: "k2", admin: true, want: true},
		{name: "unowned", owner: "", keyID: "", want: false},
		{name: "unowned admin", owner: "", keyID: "k2", admin: true, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &Order{Owner: tt.owner}
			assert.Equal(t, tt.want, o.VisibleTo(tt.keyID, tt.admin))
		})
	}
}
