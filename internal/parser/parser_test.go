package parser

import (
	"strings"
	"testing"

	"github.com/ksred/tradejournal-api/internal/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitLine(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"plain", "a,b,c", []string{"a", "b", "c"}},
		{"embedded comma", `100,"EUR,USD",buy`, []string{"100", "EUR,USD", "buy"}},
		{"escaped quote", `"say ""hi""",x`, []string{`say "hi"`, "x"}},
		{"empty fields", ",,", []string{"", "", ""}},
		{"quote mid field", `ab"c,d"e`, []string{"abc,de"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitLine(tt.in))
		})
	}
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func TestProperty_SplitLineRecoversQuotedFields(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("quoted fields survive any embedded delimiter or quote", prop.ForAll(
		func(first string, rest []string) bool {
			fields := append([]string{first}, rest...)
			quoted := make([]string, len(fields))
			for i, f := range fields {
				quoted[i] = quote(f)
			}

			got := SplitLine(strings.Join(quoted, ","))
			if len(got) != len(fields) {
				return false
			}
			for i := range fields {
				if got[i] != fields[i] {
					return false
				}
			}
			return true
		},
		gen.AnyString(),
		gen.SliceOf(gen.AnyString()),
	))

	properties.TestingRun(t)
}

func TestParseDelimitedExample(t *testing.T) {
	records, err := ParseDelimited([]byte("ticket,symbol,type,price,close,profit\n100,EURUSD,buy,1.1000,1.1050,50"))
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, 2, records[0].Index)
	assert.Equal(t, map[string]string{
		"ticket": "100",
		"symbol": "EURUSD",
		"type":   "buy",
		"price":  "1.1000",
		"close":  "1.1050",
		"profit": "50",
	}, records[0].Fields)
}

func TestParseDelimitedHeadersAndGarbage(t *testing.T) {
	data := "\xEF\xBB\xBF  Ticket , SYMBOL ,Profit\r\n" +
		"1,EURUSD,10\r\n" +
		"\r\n" +
		",,99\r\n" + // neither ticket nor symbol: dropped
		"Total,,\r\n" + // a summary row still names a ticket-like value
		",XAUUSD,5\r\n"

	records, err := ParseDelimited([]byte(data))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "1", records[0].Fields["ticket"])
	assert.Equal(t, "EURUSD", records[0].Fields["symbol"])
	assert.Equal(t, "Total", records[1].Fields["ticket"])
	assert.Equal(t, "XAUUSD", records[2].Fields["symbol"])
	assert.Equal(t, 6, records[2].Index)
}

func TestParseDelimitedTabs(t *testing.T) {
	records, err := ParseDelimited([]byte("Order\tItem\tProfit\n7\tGBPUSD\t-3.5\n"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "7", records[0].Fields["order"])
	assert.Equal(t, "GBPUSD", records[0].Fields["item"])
	assert.Equal(t, "-3.5", records[0].Fields["profit"])
}

func TestParseDelimitedTabsInsideQuotes(t *testing.T) {
	records, err := ParseDelimited([]byte("Ticket\tSymbol\tComment\n7\tGBPUSD\t\"tp\thit\"\n"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "7", records[0].Fields["ticket"])
	assert.Equal(t, "tp\thit", records[0].Fields["comment"])
}

func TestParseDelimitedEmpty(t *testing.T) {
	_, err := ParseDelimited([]byte("\n  \n"))
	assert.Equal(t, types.KindValidation, types.KindOf(err))

	records, err := ParseDelimited([]byte("ticket,symbol\n"))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestParseWebhook(t *testing.T) {
	body := `{
		"connection_code": " TJ-ABCD-EFGH ",
		"account_number": "12345",
		"platform": "MT5",
		"trades": [
			{"ticket": "5", "symbol": "GBPUSD", "type": "sell", "profit": -20, "commission": -2, "swap": 0},
			42,
			{"Ticket": 6, "lots": 0.10, "comment": null}
		]
	}`

	batch, err := ParseWebhook([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "TJ-ABCD-EFGH", batch.ConnectionCode)
	assert.Equal(t, "12345", batch.AccountNumber)
	assert.Equal(t, "mt5", batch.Platform)
	require.Len(t, batch.Records, 3)

	assert.Equal(t, map[string]string{
		"ticket":     "5",
		"symbol":     "GBPUSD",
		"type":       "sell",
		"profit":     "-20",
		"commission": "-2",
		"swap":       "0",
	}, batch.Records[0].Fields)

	assert.Equal(t, 2, batch.Records[1].Index)
	assert.NotEmpty(t, batch.Records[1].Invalid)

	assert.Equal(t, "6", batch.Records[2].Fields["ticket"])
	assert.Equal(t, "0.10", batch.Records[2].Fields["lots"])
	assert.NotContains(t, batch.Records[2].Fields, "comment")
}

func TestParseWebhookEnvelopeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"not json", `{"connection_code":`, msgInvalidBody},
		{"not an object", `[1,2]`, msgInvalidBody},
		{"missing code", `{"trades":[]}`, msgMissingCode},
		{"blank code", `{"connection_code":"  ","trades":[]}`, msgMissingCode},
		{"trades missing", `{"connection_code":"TJ-AAAA-AAAA"}`, msgInvalidTrades},
		{"trades not array", `{"connection_code":"TJ-AAAA-AAAA","trades":{"ticket":"1"}}`, msgInvalidTrades},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWebhook([]byte(tt.body))
			require.Error(t, err)
			assert.Equal(t, types.KindValidation, types.KindOf(err))
			assert.Equal(t, tt.msg, err.Error())
		})
	}
}
