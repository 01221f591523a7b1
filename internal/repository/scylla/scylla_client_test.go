package scylla

import (
	"errors"
	"strings"
	"testing"

	"github.com/gocql/gocql"

	"auth-token-service/internal/models"
)

func TestStatementsKeepMembershipCheckOnFallback(t *testing.T) {
	st := newStatements()

	if !strings.Contains(st.GetAccountWithToken, "tokens CONTAINS ?") {
		t.Fatalf("fallback lookup lost its membership filter: %s", st.GetAccountWithToken)
	}
	for _, stmt := range []string{
		st.GetAccountByID,
		st.GetAccountWithToken,
		st.UpdateTokenSetIfMatch,
		st.UpdateTokenSetIfUnversioned,
	} {
		if !strings.Contains(stmt, "account_bucket = ? AND account_id = ?") {
			t.Errorf("statement does not address the full partition key: %s", stmt)
		}
	}
	if !strings.HasSuffix(strings.TrimSpace(st.UpdateTokenSetIfMatch), "IF version = ?") {
		t.Fatalf("token set update is not conditional: %s", st.UpdateTokenSetIfMatch)
	}
	if !strings.HasSuffix(strings.TrimSpace(st.UpdateTokenSetIfUnversioned), "IF version = null") {
		t.Fatalf("unversioned update does not match null: %s", st.UpdateTokenSetIfUnversioned)
	}
}

func TestTokenSetUpdateChoosesConditionByVersion(t *testing.T) {
	st := newStatements()
	account := &models.Account{ID: "acc-1", Tokens: []string{"enc-1"}, ActiveDevices: []string{"10.0.0.1"}, ActiveDeviceCount: 1}

	// a row whose version column was never written scans as 0
	stmt, args := tokenSetUpdate(st, account, 3, false)
	if stmt != st.UpdateTokenSetIfUnversioned {
		t.Fatalf("null version used %s", stmt)
	}
	if len(args) != strings.Count(stmt, "?") || args[3] != 1 || args[4] != 3 || args[5] != "acc-1" {
		t.Fatalf("unversioned args = %v", args)
	}

	account.Version = 4
	stmt, args = tokenSetUpdate(st, account, 3, true)
	if stmt != st.UpdateTokenSetIfMatch {
		t.Fatalf("versioned row used %s", stmt)
	}
	if len(args) != strings.Count(stmt, "?") || args[3] != 5 || args[6] != 4 {
		t.Fatalf("versioned args = %v", args)
	}
}

type requestError struct{ code int }

func (e requestError) Code() int { return e.code }
func (e requestError) Message() string { return "rejected" }
func (e requestError) Error() string { return "rejected" }

func TestClassifyWriteError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		rejected bool
	}{
		{name: "invalid", err: requestError{code: gocql.ErrCodeInvalid}, rejected: true},
		{name: "syntax", err: requestError{code: gocql.ErrCodeSyntax}, rejected: true},
		{name: "unauthorized", err: requestError{code: gocql.ErrCodeUnauthorized}, rejected: true},
		{name: "write timeout", err: requestError{code: gocql.ErrCodeWriteTimeout}},
		{name: "no connection", err: gocql.ErrNoConnections},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyWriteError(tt.err)
			if got := errors.Is(err, ErrRejectedStatement); got != tt.rejected {
				t.Fatalf("rejected = %v, want %v", got, tt.rejected)
			}
			if !errors.Is(err, tt.err) {
				t.Fatalf("cause lost: %v", err)
			}
		})
	}
}
