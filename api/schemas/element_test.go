package schemas_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

func TestBoundingBoxValidate(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name    string
		box     schemas.BoundingBox
		wantErr bool
	}{
		{"positive dimensions", schemas.BoundingBox{X: 10, Y: 20, Width: 100, Height: 30}, false},
		{"zero dimensions", schemas.BoundingBox{X: 0, Y: 0, Width: 0, Height: 0}, false},
		{"negative x is legal", schemas.BoundingBox{X: -5, Y: 0, Width: 10, Height: 10}, false},
		{"negative width", schemas.BoundingBox{Width: -1, Height: 10}, true},
		{"negative height", schemas.BoundingBox{Width: 10, Height: -1}, true},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.box.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInteractiveElementValidate(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name    string
		element schemas.InteractiveElement
		wantErr bool
	}{
		{
			name:    "registered element",
			element: schemas.InteractiveElement{Ref: "elem-0", Role: "button", Name: "Submit"},
			wantErr: false,
		},
		{
			name:    "empty name is legal",
			element: schemas.InteractiveElement{Ref: "elem-1", Role: "textbox"},
			wantErr: false,
		},
		{
			name:    "missing ref",
			element: schemas.InteractiveElement{Role: "button", Name: "Submit"},
			wantErr: true,
		},
		{
			name:    "missing role",
			element: schemas.InteractiveElement{Ref: "elem-0", Name: "Submit"},
			wantErr: true,
		},
		{
			name: "invalid bbox",
			element: schemas.InteractiveElement{
				Ref:  "elem-0",
				Role: "button",
				BBox: &schemas.BoundingBox{Width: -1},
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.element.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestInteractiveElementDescribe(t *testing.T) {
	t.Parallel()
	el := schemas.InteractiveElement{Ref: "elem-3", Role: "button", Name: "Add to cart"}
	assert.Equal(t, `[button] "Add to cart" (elem-3)`, el.Describe())

	unnamed := schemas.InteractiveElement{Ref: "elem-0", Role: "textbox"}
	assert.Equal(t, `[textbox] "" (elem-0)`, unnamed.Describe())
}

func TestPageSnapshotElementByRef(t *testing.T) {
	t.Parallel()
	snap := schemas.PageSnapshot{
		URL:   "https://example.com",
		Title: "Example",
		Elements: []schemas.InteractiveElement{
			{Ref: "elem-0", Role: "button", Name: "Submit"},
			{Ref: "elem-1", Role: "link", Name: "Home"},
		},
		Version: 2,
	}

	el, ok := snap.ElementByRef("elem-1")
	require.True(t, ok)
	assert.Equal(t, "link", el.Role)

	_, ok = snap.ElementByRef("elem-9")
	assert.False(t, ok)
}

// The snapshot travels through JSON when rendered into prompts and session
// artifacts, so the wire shape is part of the contract.
func TestPageSnapshotJSONRoundTrip(t *testing.T) {
	t.Parallel()
	original := schemas.PageSnapshot{
		URL:   "https://example.com/cart",
		Title: "Cart",
		Elements: []schemas.InteractiveElement{
			{
				Ref:          "elem-0",
				Role:         "button",
				Name:         "Checkout",
				AriaLabel:    "Proceed to checkout",
				ValuePreview: "",
				BBox:         &schemas.BoundingBox{X: 1, Y: 2, Width: 88, Height: 24},
			},
		},
		VisibleText:    "Your cart contains 2 items...",
		ScreenshotPath: "/tmp/scout/shot.png",
		Notes:          []string{"Found 1 interactive elements"},
		Version:        7,
	}

	raw, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded schemas.PageSnapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))

	if diff := cmp.Diff(original, decoded); diff != "" {
		t.Fatalf("snapshot changed across JSON round trip (-want +got):\n%s", diff)
	}
}
