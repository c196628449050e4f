package wire

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// KV is one ordered XML attribute. Outcome elements are built from an
// ordered list (rather than a map) so attribute order in the wire output
// is deterministic and matches spec.md's examples.
type KV struct {
	Key, Val string
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func openTag(tag string, attrs []KV, selfClose bool) string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(tag)
	for _, a := range attrs {
		fmt.Fprintf(&b, ` %s="%s"`, a.Key, escape(a.Val))
	}
	if selfClose {
		b.WriteString("/>")
	} else {
		b.WriteByte('>')
	}
	return b.String()
}

// Outcome is one serialized child of a <results> response.
type Outcome string

// Results wraps one outcome per sub-operation, in input order (spec.md
// §4.1, §6).
type Results []Outcome

// XML renders the full <results>...</results> response.
func (r Results) XML() string {
	var b strings.Builder
	b.WriteString("<results>")
	for _, o := range r {
		b.WriteString(string(o))
	}
	b.WriteString("</results>")
	return b.String()
}

// TopLevelError wraps the framing/parse-level errors of spec.md §7 that
// never reach per-child dispatch (invalid XML, unknown root tag).
func TopLevelError(message string) string {
	return "<results>" + Error(nil, message) + "</results>"
}

// Error renders an <error ...>text</error> outcome. attrs mirror the
// identifying attributes of the failed child (spec.md §6).
func Error(attrs []KV, message string) Outcome {
	return Outcome(openTag("error", attrs, false) + escape(message) + "</error>")
}

// CreatedAccount renders <created id="ID"/> for a newly provisioned
// account.
func CreatedAccount(id string) Outcome {
	return Outcome(openTag("created", []KV{{"id", id}}, true))
}

// CreatedPosition renders <created sym="SYM" id="ID"/> for a seeded
// position.
func CreatedPosition(sym, id string) Outcome {
	return Outcome(openTag("created", []KV{{"sym", sym}, {"id", id}}, true))
}

// Opened renders <opened sym amount limit id/> for an accepted order.
func Opened(sym, amountStr, limitStr string, orderID int64) Outcome {
	return Outcome(openTag("opened", []KV{
		{"sym", sym}, {"amount", amountStr}, {"limit", limitStr}, {"id", strconv.FormatInt(orderID, 10)},
	}, true))
}

// FillView is one executed fill rendered inside <status>/<canceled>.
type FillView struct {
	Shares decimal.Decimal
	Price  decimal.Decimal
	Time   time.Time
}

func (f FillView) xml() string {
	return openTag("executed", []KV{
		{"shares", f.Shares.String()},
		{"price", f.Price.String()},
		{"time", strconv.FormatInt(f.Time.Unix(), 10)},
	}, true)
}

// StatusOpen renders <status id>...<open shares/>...fills</status>.
func StatusOpen(orderID int64, remaining decimal.Decimal, fills []FillView) Outcome {
	var b strings.Builder
	b.WriteString(openTag("status", []KV{{"id", strconv.FormatInt(orderID, 10)}}, false))
	if remaining.IsPositive() {
		b.WriteString(openTag("open", []KV{{"shares", remaining.String()}}, true))
	}
	for _, f := range fills {
		b.WriteString(f.xml())
	}
	b.WriteString("</status>")
	return Outcome(b.String())
}

// StatusCanceled renders <status id>...<canceled shares time/>...fills</status>.
func StatusCanceled(orderID int64, remaining decimal.Decimal, canceledAt time.Time, fills []FillView) Outcome {
	var b strings.Builder
	b.WriteString(openTag("status", []KV{{"id", strconv.FormatInt(orderID, 10)}}, false))
	b.WriteString(openTag("canceled", []KV{
		{"shares", remaining.String()}, {"time", strconv.FormatInt(canceledAt.Unix(), 10)},
	}, true))
	for _, f := range fills {
		b.WriteString(f.xml())
	}
	b.WriteString("</status>")
	return Outcome(b.String())
}

// Canceled renders the cancel response: a single outer <canceled id="…">
// wrapper containing one refund marker and the order's prior fills.
// spec.md §9 calls out the source's malformed nested wrapper and directs
// implementers to normalize to this single-wrapper shape.
func Canceled(orderID int64, refundedShares decimal.Decimal, canceledAt time.Time, fills []FillView) Outcome {
	var b strings.Builder
	b.WriteString(openTag("canceled", []KV{{"id", strconv.FormatInt(orderID, 10)}}, false))
	b.WriteString(openTag("canceled", []KV{
		{"shares", refundedShares.String()}, {"time", strconv.FormatInt(canceledAt.Unix(), 10)},
	}, true))
	for _, f := range fills {
		b.WriteString(f.xml())
	}
	b.WriteString("</canceled>")
	return Outcome(b.String())
}
