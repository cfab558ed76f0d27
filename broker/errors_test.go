package broker

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name    string
		msgType string
		code    string
		wantAs  any
	}{
		{"authorize envelope", "authorize", "InvalidAppID", new(*AuthError)},
		{"auth code on any request", "balance", "InvalidToken", new(*AuthError)},
		{"disabled client", "proposal", "DisabledClient", new(*AuthError)},
		{"proposal rejection", "proposal", "ContractBuyValidationError", new(*ProposalError)},
		{"buy rejection", "buy", "InvalidContractProposal", new(*ProposalError)},
		{"other request", "profit_table", "InputValidationFailed", new(*APIError)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyError(tt.msgType, tt.code, "boom")
			switch target := tt.wantAs.(type) {
			case **AuthError:
				if !errors.As(err, target) {
					t.Fatalf("%v is not an AuthError", err)
				}
			case **ProposalError:
				if !errors.As(err, target) {
					t.Fatalf("%v is not a ProposalError", err)
				}
			case **APIError:
				if !errors.As(err, target) {
					t.Fatalf("%v is not an APIError", err)
				}
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
	if IsTransient(&AuthError{Code: "InvalidToken"}) {
		t.Error("auth errors are permanent")
	}
	if IsTransient(&ProposalError{Code: "X"}) {
		t.Error("proposal rejections are permanent")
	}
	if IsTransient(&APIError{Code: "X"}) {
		t.Error("broker-side logical errors are permanent")
	}
	if !IsTransient(ErrDisconnected) {
		t.Error("a dropped connection is transient")
	}
	if !IsTransient(errors.New("read tcp: connection reset by peer")) {
		t.Error("network errors are transient")
	}
	if !IsTransient(fmt.Errorf("wrap: %w", ErrDisconnected)) {
		t.Error("wrapped transient errors stay transient")
	}
}

func TestIsAuthErrorUnwraps(t *testing.T) {
	wrapped := fmt.Errorf("session: %w", &AuthError{Code: "InvalidToken", Message: "bad"})
	if !IsAuthError(wrapped) {
		t.Error("wrapped auth error not detected")
	}
	if IsAuthError(errors.New("timeout")) {
		t.Error("plain error misclassified as auth")
	}
}
