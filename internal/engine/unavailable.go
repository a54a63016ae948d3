package engine

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/mender/api/schemas"
)

// unavailable stands in for a driver that could not be created. Every call
// fails, so the run ends in ERROR through the usual path and still gets its
// events and record.
type unavailable struct {
	err error
}

var _ schemas.Driver = unavailable{}

func (u unavailable) fail() error {
	return fmt.Errorf("browser context unavailable: %w", u.err)
}

func (u unavailable) Navigate(context.Context, string) error { return u.fail() }

func (u unavailable) QueryBySelector(context.Context, string) ([]schemas.ElementHandle, error) {
	return nil, u.fail()
}

func (u unavailable) QueryCandidatesByTag(context.Context, string, int) ([]schemas.Candidate, error) {
	return nil, u.fail()
}

func (u unavailable) GetFingerprint(context.Context, schemas.ElementHandle) (schemas.ElementFingerprint, error) {
	return schemas.ElementFingerprint{}, u.fail()
}

func (u unavailable) Click(context.Context, schemas.ElementHandle) error { return u.fail() }

func (u unavailable) Type(context.Context, schemas.ElementHandle, string) error { return u.fail() }

func (u unavailable) GetText(context.Context, schemas.ElementHandle) (string, error) {
	return "", u.fail()
}

func (u unavailable) IsVisible(context.Context, schemas.ElementHandle) (bool, error) {
	return false, u.fail()
}

func (u unavailable) CurrentURL(context.Context) (string, error) { return "", u.fail() }

func (u unavailable) Screenshot(context.Context) ([]byte, error) { return nil, u.fail() }
