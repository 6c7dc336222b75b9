package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/studiomate/studiod/internal/domain"
)

// Sender delivers a rendered message to a phone number. The SMS gateway
// implements this in production; the default is LogSender, which only
// prints, so a misconfigured deploy can never text real customers.
type Sender interface {
	Send(ctx context.Context, phone string, msg Message) error
}

// LogSender writes messages to the process log instead of sending them.
type LogSender struct{}

func (LogSender) Send(_ context.Context, phone string, msg Message) error {
	log.Printf("[notify] dry-run to %s: %s | %s", phone, msg.Title, msg.Body)
	return nil
}

// Config is the studio identity stamped into every message.
type Config struct {
	Studio  string
	Bank    string
	Account string
}

// Notifier renders templates and hands them to the sender. It implements
// the engine's notification seam.
type Notifier struct {
	cfg        Config
	categories domain.RoomCategories
	registry   *Registry
	sender     Sender
}

// New builds a Notifier over the given sender.
func New(cfg Config, categories domain.RoomCategories, sender Sender) *Notifier {
	return &Notifier{
		cfg:        cfg,
		categories: categories,
		registry:   NewRegistry(),
		sender:     sender,
	}
}

// SendAccountGuide asks the customer to transfer the booking price.
// Proxy bookings get the variant asking for the actual player's details.
func (n *Notifier) SendAccountGuide(ctx context.Context, r domain.Reservation) error {
	code := CodePaymentGuide
	if r.IsProxy {
		code = CodePaymentGuideProxy
	}
	return n.send(ctx, code, r, n.reservationContext(r))
}

// SendConfirmation tells the customer their booking is locked in.
func (n *Notifier) SendConfirmation(ctx context.Context, r domain.Reservation) error {
	return n.send(ctx, CodeConfirmation, r, n.reservationContext(r))
}

// SendCancellation maps the reason code onto the matching template.
func (n *Notifier) SendCancellation(ctx context.Context, r domain.Reservation, reason domain.ReasonCode) error {
	cctx := n.reservationContext(r)
	cctx.Reason = string(reason)

	var code Code
	switch reason {
	case domain.ReasonSlotTaken, domain.ReasonLostToEarlierPayer:
		code = CodeNormalCancelTaken
	case domain.ReasonCategoryMismatch:
		code = CodeCouponCancelType
	case domain.ReasonCouponExpired, domain.ReasonCouponMetaMissing:
		code = CodeCouponCancelExpired
	default:
		code = CodeCancelGeneric
	}
	return n.send(ctx, code, r, cctx)
}

// SendInsufficientBalance reports a failed coupon debit with the balance
// details. The wallet is nil when the customer holds no wallet at all.
func (n *Notifier) SendInsufficientBalance(ctx context.Context, r domain.Reservation, w *domain.CouponWallet) error {
	cctx := n.reservationContext(r)
	cctx.Required = r.DurationMinutes()
	if w != nil {
		cctx.Remaining = w.Remaining
		cctx.WalletType = string(w.Category)
	}
	return n.send(ctx, CodeCouponCancelTime, r, cctx)
}

func (n *Notifier) send(ctx context.Context, code Code, r domain.Reservation, cctx Context) error {
	msg, err := n.registry.Render(code, cctx)
	if err != nil {
		return err
	}
	if err := n.sender.Send(ctx, r.Phone, msg); err != nil {
		return fmt.Errorf("send %s to %s: %w", code, r.Phone, err)
	}
	return nil
}

func (n *Notifier) reservationContext(r domain.Reservation) Context {
	cctx := Context{
		Studio:      n.cfg.Studio,
		Name:        r.CustomerName,
		Room:        r.Room,
		Date:        r.Day(),
		Start:       r.StartsAt.Format("15:04"),
		End:         r.EndsAt.Format("15:04"),
		Price:       r.Price,
		Bank:        n.cfg.Bank,
		Account:     n.cfg.Account,
		ExtraPeople: r.ExtraPeople,
	}
	if r.IsCoupon {
		cctx.RoomType = string(n.categories.Of(r.Room))
	}
	return cctx
}
