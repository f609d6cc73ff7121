package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandbox_WalksPages(t *testing.T) {
	sb := NewSandbox("sandbox", SandboxSettings{Pages: 3, PerPage: 4})
	ctx := context.Background()

	var cursors []string
	cursor := ""
	for {
		page, err := sb.FetchTransactionDeltas(ctx, Credentials{}, cursor)
		require.NoError(t, err)
		cursors = append(cursors, page.NextCursor)
		assert.Len(t, page.Added, 4)
		cursor = page.NextCursor
		if !page.HasMore {
			break
		}
	}
	assert.Equal(t, []string{"sbx-1", "sbx-2", "sbx-3"}, cursors)

	tail, err := sb.FetchTransactionDeltas(ctx, Credentials{}, cursor)
	require.NoError(t, err)
	assert.Empty(t, tail.Added)
	assert.False(t, tail.HasMore)
	assert.Equal(t, cursor, tail.NextCursor)
}

func TestSandbox_IsDeterministicPerCursor(t *testing.T) {
	sb := NewSandbox("sandbox", SandboxSettings{Pages: 4, PerPage: 3})
	ctx := context.Background()

	a, err := sb.FetchTransactionDeltas(ctx, Credentials{}, "sbx-2")
	require.NoError(t, err)
	b, err := sb.FetchTransactionDeltas(ctx, Credentials{}, "sbx-2")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	require.Len(t, a.Modified, 1)
	assert.Equal(t, "sbx-tx-1-0", a.Modified[0].ExternalID)
	assert.Equal(t, []string{"sbx-tx-0-1"}, a.Removed)
}

func TestSandbox_Faults(t *testing.T) {
	ctx := context.Background()

	sb := NewSandbox("sandbox", SandboxSettings{Token: "secret", FailPages: []int{1}})
	_, err := sb.FetchAccounts(ctx, Credentials{Token: "wrong"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = sb.FetchTransactionDeltas(ctx, Credentials{Token: "secret"}, "sbx-1")
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = sb.FetchTransactionDeltas(ctx, Credentials{Token: "secret"}, "garbage")
	require.Error(t, err)
}

func TestSandbox_Accounts(t *testing.T) {
	sb := NewSandbox("sandbox", SandboxSettings{Accounts: 3, Currency: "GBP"})

	page, err := sb.FetchAccounts(context.Background(), Credentials{})
	require.NoError(t, err)
	require.Len(t, page.Accounts, 3)
	assert.Equal(t, "sbx-acct-2", page.Accounts[2].ExternalID)
	assert.Equal(t, "GBP", page.Accounts[2].Currency)
	assert.NotEmpty(t, page.Raw)
}
