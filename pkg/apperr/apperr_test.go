package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindsSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("append: %w", Forbidden("sender is not a participant"))
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected errors.Is to match forbidden, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("forbidden error must not match not_found")
	}
	if KindOf(err) != KindForbidden {
		t.Fatalf("KindOf = %q", KindOf(err))
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validation("amount", "must be greater than zero"), http.StatusBadRequest},
		{Forbidden("nope"), http.StatusForbidden},
		{NotFound("conversation", "c1"), http.StatusNotFound},
		{Conflict("agent belongs to another company"), http.StatusConflict},
		{Delivery(errors.New("redis down")), http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestErrorMessageIncludesField(t *testing.T) {
	err := Validation("currency", "is required")
	if err.Error() != "currency: is required" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
