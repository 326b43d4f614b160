package versioning

import (
	"fmt"
	"math/big"
	"reflect"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mitchellh/copystructure"
	"github.com/stretchr/testify/require"
)

type Status int

const (
	StatusDraft Status = iota
	StatusActive
	StatusArchived
)

var statusNames = map[Status]string{
	StatusDraft:    "draft",
	StatusActive:   "active",
	StatusArchived: "archived",
}

func (s Status) MarshalText() ([]byte, error) {
	name, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("unknown status %d", int(s))
	}
	return []byte(name), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

type Part struct {
	IteratorID *int   `json:"iteratorId,omitempty"`
	Name       string `json:"name"`
}

type Item struct {
	IteratorID *int     `json:"iteratorId,omitempty"`
	V          string   `json:"v"`
	Qty        int      `json:"qty"`
	Tags       []string `json:"tags,omitempty"`
	Parts      []*Part  `json:"parts,omitempty"`
}

type Label struct {
	Key  *string `json:"key,omitempty" version:",iteratorId"`
	Text string  `json:"text"`
}

type Address struct {
	Street string  `json:"street"`
	City   string  `json:"city"`
	Zip    *string `json:"zip,omitempty"`
}

type Order struct {
	Name       string            `json:"name"`
	Count      int               `json:"count"`
	Price      float64           `json:"price"`
	Active     bool              `json:"active"`
	Note       *string           `json:"note,omitempty"`
	Total      *big.Int          `json:"total,omitempty"`
	Ratio      *big.Rat          `json:"ratio,omitempty"`
	Status     Status            `json:"status"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	Address    *Address          `json:"address,omitempty"`
	Billing    Address           `json:"billing"`
	Items      []*Item           `json:"items,omitempty"`
	Labels     Set[Label]        `json:"labels"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Lines      map[string]*Item  `json:"lines,omitempty"`
	Codes      []int             `json:"codes,omitempty"`
	Scratch    string            `json:"-" version:"-"`
}

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

func item(id *int, v string) *Item {
	return &Item{IteratorID: id, V: v}
}

func label(key, text string) Label {
	return Label{Key: strPtr(key), Text: text}
}

// newOrder builds a fully populated order whose list and set elements already
// carry iterator ids.
func newOrder() *Order {
	return &Order{
		Name:      "order-1",
		Count:     3,
		Price:     9.99,
		Active:    true,
		Note:      strPtr("leave at door"),
		Total:     big.NewInt(1234567890123),
		Ratio:     big.NewRat(1, 3),
		Status:    StatusActive,
		UpdatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Billing:   Address{Street: "1 Main St", City: "Oslo"},
		Items: []*Item{
			item(intPtr(0), "a"),
			item(intPtr(1), "b"),
			item(intPtr(2), "c"),
		},
		Labels:     NewSet(label("0", "fragile"), label("1", "gift")),
		Attributes: map[string]string{"color": "red", "size": "L"},
		Lines:      map[string]*Item{"x": {V: "line-x", Qty: 1}},
		Codes:      []int{1, 2, 3},
	}
}

var copier = copystructure.Config{
	Copiers: map[reflect.Type]copystructure.CopierFunc{
		reflect.TypeOf(time.Time{}): func(v interface{}) (interface{}, error) {
			return v.(time.Time), nil
		},
		reflect.TypeOf(big.Int{}): func(v interface{}) (interface{}, error) {
			n := v.(big.Int)
			return *new(big.Int).Set(&n), nil
		},
		reflect.TypeOf(big.Rat{}): func(v interface{}) (interface{}, error) {
			r := v.(big.Rat)
			return *new(big.Rat).Set(&r), nil
		},
		reflect.TypeOf(Set[Label]{}): func(v interface{}) (interface{}, error) {
			s := v.(Set[Label])
			if s.IsNil() {
				return Set[Label]{}, nil
			}
			return NewSet(s.Items()...), nil
		},
	},
}

// deepCopy returns an independent copy of an order.
func deepCopy(t *testing.T, o *Order) *Order {
	t.Helper()
	c, err := copier.Copy(o)
	require.NoError(t, err)
	return c.(*Order)
}

var cmpOpts = cmp.Options{
	cmp.Comparer(func(a, b *big.Int) bool {
		if a == nil || b == nil {
			return a == b
		}
		return a.Cmp(b) == 0
	}),
	cmp.Comparer(func(a, b *big.Rat) bool {
		if a == nil || b == nil {
			return a == b
		}
		return a.Cmp(b) == 0
	}),
}

func requireSameOrder(t *testing.T, want, got *Order) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmpOpts); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}
