package parser

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHappyPath(t *testing.T) {
	body := "# MarketPsych Engine Version 3.2 | 2024-01-02 00:00:00 UTC - 2024-01-02 00:01:00 UTC\n" +
		"Sector\tBuzz\n" +
		"1679\t0.123456\n"

	table, err := New("test").Parse("r1", []byte(body))
	require.NoError(t, err)
	assert.Equal(t, "3.2", table.EngineVersion)
	assert.Equal(t, []string{"Sector", "Buzz"}, table.Columns)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "1679", table.Rows[0].Key)
	assert.InDelta(t, 0.123456, table.Rows[0].Values[0], 1e-9)
	assert.Equal(t, "2024-01-02 00:01:00", table.CloseTime.Format("2006-01-02 15:04:05"))
}

func TestParseUnparseableCellBecomesNaN(t *testing.T) {
	body := "# MarketPsych Engine Version 1.0 | 2024-01-02 00:00:00 UTC - 2024-01-02 00:01:00 UTC\n" +
		"Sector\tBuzz\n" +
		"1679\tgarbage\n"

	table, err := New("test").Parse("r1", []byte(body))
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.True(t, math.IsNaN(table.Rows[0].Values[0]))
}

func TestParseHonorsNonfiniteTokens(t *testing.T) {
	body := "# MarketPsych Engine Version 1.0 | 2024-01-02 00:00:00 UTC - 2024-01-02 00:01:00 UTC\n" +
		"Sector\tBuzz\n" +
		"1679\tinf\n" +
		"1680\t-inf\n" +
		"1681\tnan\n"

	table, err := New("test").Parse("r1", []byte(body))
	require.NoError(t, err)
	require.Len(t, table.Rows, 3)
	assert.True(t, math.IsInf(table.Rows[0].Values[0], 1))
	assert.True(t, math.IsInf(table.Rows[1].Values[0], -1))
	assert.True(t, math.IsNaN(table.Rows[2].Values[0]))
}

func TestParseStopsAtCommentLine(t *testing.T) {
	body := "# MarketPsych Engine Version 1.0 | 2024-01-02 00:00:00 UTC - 2024-01-02 00:01:00 UTC\n" +
		"Sector\tBuzz\n" +
		"1679\t0.1\n" +
		"# end of table\n" +
		"1680\t0.2\n"

	table, err := New("test").Parse("r1", []byte(body))
	require.NoError(t, err)
	assert.Len(t, table.Rows, 1)
}

func TestParseSkipsMismatchedRowColumnCount(t *testing.T) {
	body := "# MarketPsych Engine Version 1.0 | 2024-01-02 00:00:00 UTC - 2024-01-02 00:01:00 UTC\n" +
		"Sector\tBuzz\tVolume\n" +
		"1679\t0.1\n" +
		"1680\t0.2\t0.3\n"

	table, err := New("test").Parse("r1", []byte(body))
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "1680", table.Rows[0].Key)
}

func TestParseRejectsMissingMagicPreamble(t *testing.T) {
	_, err := New("test").Parse("r1", []byte("HELLO\nSector\tBuzz\n1679\t0.1\n"))
	assert.Error(t, err)
}

func TestParseRejectsTruncatedBulletin(t *testing.T) {
	_, err := New("test").Parse("r1", []byte("# MarketPsych Engine Version 1.0 | 2024-01-02 00:00:00 UTC - 2024-01-02 00:01:00 UTC\n"))
	assert.Error(t, err)
}

func TestParseRejectsBadHeaderLine(t *testing.T) {
	body := "# MarketPsych Engine Version 1.0 | 2024-01-02 00:00:00 UTC - 2024-01-02 00:01:00 UTC\n" +
		"OnlyOneColumn\n" +
		"1679\t0.1\n"
	_, err := New("test").Parse("r1", []byte(body))
	assert.Error(t, err)
}
