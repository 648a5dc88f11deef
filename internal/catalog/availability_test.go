package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestCanCheckout(t *testing.T) {
	tests := []struct {
		name      string
		available int
		want      bool
	}{
		{"none available", 0, false},
		{"negative count", -1, false},
		{"one available", 1, true},
		{"several available", 7, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanCheckout(Holding{ISBN: "123", Stock: 7, Available: tt.available}))
		})
	}
}

func TestCanCheckoutIffAvailablePositive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		available := rapid.IntRange(-1000, 1000).Draw(t, "available")

		if got := CanCheckout(Holding{Available: available}); got != (available >= 1) {
			t.Fatalf("CanCheckout(available=%d) = %v", available, got)
		}
	})
}

func TestHoldingCheckedOutCount(t *testing.T) {
	assert.Equal(t, 3, Holding{Stock: 5, Available: 4, CheckedOut: 3}.CheckedOutCount())
	assert.Equal(t, 2, Holding{Stock: 5, Available: 3}.CheckedOutCount())
	assert.Equal(t, 0, Holding{Stock: 2, Available: 2}.CheckedOutCount())
}

func TestLibraryValidate(t *testing.T) {
	lib := Library{Name: "Central", Address: "Main St 1", OpenTime: "09:00", CloseTime: "18:00", OpenDays: "Mon-Fri"}
	assert.NoError(t, lib.Validate())

	lib.OpenDays = " "
	assert.ErrorIs(t, lib.Validate(), ErrIncompleteLibrary)
}

func TestBookPrimaryAuthor(t *testing.T) {
	assert.Equal(t, "A", Book{Authors: []Author{{Name: "A"}, {Name: "B"}}}.PrimaryAuthor())
	assert.Equal(t, "by someone", Book{ByStatement: "by someone"}.PrimaryAuthor())
	assert.Equal(t, "Unknown Author", Book{}.PrimaryAuthor())
}

func TestCoverSizeValid(t *testing.T) {
	assert.True(t, CoverMedium.Valid())
	assert.False(t, CoverSize("XL").Valid())
}
