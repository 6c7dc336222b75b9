// Package notify renders and sends the customer-facing messages of the
// reconciliation engine. Message bodies live in a template registry keyed
// by code, so operators can reword them without touching engine logic.
package notify

import (
	"bytes"
	"fmt"
	"text/template"
)

// Code identifies a message template.
type Code string

const (
	CodePaymentGuide        Code = "PAYMENT_GUIDE"
	CodePaymentGuideProxy   Code = "PAYMENT_GUIDE_PROXY"
	CodeConfirmation        Code = "CONFIRMATION"
	CodeCouponCancelTime    Code = "COUPON_CANCEL_TIME"
	CodeCouponCancelType    Code = "COUPON_CANCEL_TYPE"
	CodeCouponCancelExpired Code = "COUPON_CANCEL_EXPIRED"
	CodeNormalCancelTaken   Code = "NORMAL_CANCEL_CONFLICT"
	CodeCancelGeneric       Code = "CANCELLATION"
)

// Context carries the values a template may interpolate. Unused fields
// are simply ignored by templates that do not reference them.
type Context struct {
	Studio       string
	Name         string
	Room         string
	Date         string
	Start        string
	End          string
	Price        int64
	Bank         string
	Account      string
	ExtraPeople  int
	Remaining    int
	Required     int
	WalletType   string
	RoomType     string
	Reason       string
}

// Message is a rendered title and body ready for the sender.
type Message struct {
	Title string
	Body  string
}

var defaultTemplates = map[Code]struct{ title, body string }{
	CodePaymentGuide: {
		title: "Payment guide",
		body: "[{{.Studio}}] {{.Name}}, your booking request is in.\n" +
			"Please transfer {{.Price}} KRW to {{.Bank}} {{.Account}}.\n" +
			"(Booking: {{.Date}} {{.Start}}-{{.End}}, {{.Room}})",
	},
	CodePaymentGuideProxy: {
		title: "Payment guide - proxy booking",
		body: "[{{.Studio}}] {{.Name}}, your booking request is in.\n" +
			"Please transfer {{.Price}} KRW to {{.Bank}} {{.Account}}.\n" +
			"For proxy bookings, please reply with the actual player's name and phone number.\n" +
			"(Booking: {{.Date}} {{.Start}}-{{.End}}, {{.Room}})",
	},
	CodeConfirmation: {
		title: "Booking confirmed",
		body: "[{{.Studio}}] {{.Name}}, your payment is confirmed and the booking is set.\n" +
			"(Booking: {{.Date}} {{.Start}}-{{.End}}, {{.Room}}) Thank you.",
	},
	CodeCouponCancelTime: {
		title: "Coupon booking canceled - balance too low",
		body: "[{{.Studio}}] {{.Name}}, your booking was canceled because your coupon balance is too low.\n" +
			"Remaining: {{.Remaining}}m / requested: {{.Required}}m\n" +
			"Please top up and book again.",
	},
	CodeCouponCancelType: {
		title: "Coupon booking canceled - wrong room type",
		body: "[{{.Studio}}] {{.Name}}, your coupon does not cover the booked room type ({{.RoomType}}), so the booking was canceled.\n" +
			"Please check and book again.",
	},
	CodeCouponCancelExpired: {
		title: "Coupon booking canceled - coupon unusable",
		body: "[{{.Studio}}] {{.Name}}, your coupon could not be used ({{.Reason}}), so the booking was canceled.\n" +
			"Please contact the studio.",
	},
	CodeNormalCancelTaken: {
		title: "Booking canceled - slot already paid for",
		body: "[{{.Studio}}] {{.Name}}, another customer completed payment for the same time slot first, so your booking was canceled.\n" +
			"Please pick another time.",
	},
	CodeCancelGeneric: {
		title: "Booking canceled",
		body: "[{{.Studio}}] {{.Name}}, your booking {{.Date}} {{.Start}}-{{.End}} ({{.Room}}) was canceled ({{.Reason}}).",
	},
}

// Registry holds the parsed message templates.
type Registry struct {
	titles    map[Code]string
	templates map[Code]*template.Template
}

// NewRegistry parses the built-in templates. Parse errors here are
// programmer errors and panic at startup rather than surfacing per send.
func NewRegistry() *Registry {
	reg := &Registry{
		titles:    make(map[Code]string, len(defaultTemplates)),
		templates: make(map[Code]*template.Template, len(defaultTemplates)),
	}
	for code, t := range defaultTemplates {
		reg.titles[code] = t.title
		reg.templates[code] = template.Must(template.New(string(code)).Parse(t.body))
	}
	return reg
}

// Render fills the template for code with ctx.
func (reg *Registry) Render(code Code, ctx Context) (Message, error) {
	tmpl, ok := reg.templates[code]
	if !ok {
		return Message{}, fmt.Errorf("no message template %q", code)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", code, err)
	}
	return Message{Title: reg.titles[code], Body: buf.String()}, nil
}
