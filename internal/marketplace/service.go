package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/mutualaid/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mutualaid/pkg/notify"
	"github.com/MarkoPoloResearchLab/mutualaid/pkg/rental"
)

const (
	defaultHistoryLimit = 10
	dateLayout          = "2006-01-02"

	titleWalletFailed   = "Wallet unavailable"
	titleGrantFailed    = "Top-up failed"
	titleRentalFailed   = "Rental request failed"
	titleUpdateFailed   = "Rental update failed"
	titleCreditsAdded   = "Credits added"
	titleRentalPending  = "Rental requested"
	titleRentalIncoming = "New rental request"
	titleRentalStatus   = "Rental updated"
	titleRentalsFailed  = "Rentals unavailable"
)

// Action names a user-facing operation for failure reporting.
type Action string

const (
	ActionPayment       Action = "payment"
	ActionGrant         Action = "grant"
	ActionRentalRequest Action = "rental_request"
	ActionRentalUpdate  Action = "rental_update"
)

// TaskPayment describes credits owed for a task.
type TaskPayment struct {
	TaskID  string
	Title   string
	PayerID ledger.UserID
	PayeeID ledger.UserID
	Amount  ledger.PositiveCredits
}

// WalletSnapshot is a balance with its most recent history.
type WalletSnapshot struct {
	UserID  ledger.UserID
	Balance ledger.Credits
	Entries []ledger.Entry
}

// Option configures a Service.
type Option func(*Service)

// WithLogger wires a zap logger for settlement diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(service *Service) {
		if logger != nil {
			service.logger = logger
		}
	}
}

// WithGrantLimit caps a single top-up. Zero disables the cap.
func WithGrantLimit(limit ledger.Credits) Option {
	return func(service *Service) {
		service.grantLimit = limit
	}
}

// WithHistoryLimit sets how many entries a wallet snapshot carries.
func WithHistoryLimit(limit int) Option {
	return func(service *Service) {
		if limit > 0 {
			service.historyLimit = limit
		}
	}
}

// Service authorizes, mutates and reports every wallet and rental action.
type Service struct {
	ledger       *ledger.Service
	rentals      *rental.Engine
	hub          *notify.Hub
	logger       *zap.Logger
	grantLimit   ledger.Credits
	historyLimit int
}

// NewService wires a Service.
func NewService(ledgerService *ledger.Service, engine *rental.Engine, hub *notify.Hub, options ...Option) (*Service, error) {
	if ledgerService == nil || engine == nil || hub == nil {
		return nil, fmt.Errorf("%w: ledger, rental engine and notification hub are required", ErrInvalidServiceConfig)
	}
	service := &Service{
		ledger:       ledgerService,
		rentals:      engine,
		hub:          hub,
		logger:       zap.NewNop(),
		historyLimit: defaultHistoryLimit,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Notifications returns the user's notification center.
func (service *Service) Notifications(userID ledger.UserID) *notify.Center {
	return service.hub.For(userID.String())
}

// ListNotifications returns the user's queue and drops the center when it is empty.
func (service *Service) ListNotifications(userID ledger.UserID) []notify.Notification {
	notifications := service.Notifications(userID).List()
	if len(notifications) == 0 {
		service.hub.Release(userID.String())
	}
	return notifications
}

// RemoveNotification dismisses one notification. Unknown ids are ignored.
func (service *Service) RemoveNotification(userID ledger.UserID, notificationID string) {
	service.Notifications(userID).Remove(notificationID)
	service.hub.Release(userID.String())
}

// ClearNotifications empties the user's queue and drops the center.
func (service *Service) ClearNotifications(userID ledger.UserID) {
	service.Notifications(userID).Clear()
	service.hub.Release(userID.String())
}

// Guard returns a balance guard for the user that reports shortfalls as warnings.
func (service *Service) Guard(userID ledger.UserID) (*ledger.Guard, error) {
	reporter := ledger.ShortfallReporterFunc(func(_ context.Context, shortUserID ledger.UserID, required ledger.Credits, current ledger.Credits) {
		service.Notifications(shortUserID).NotifyInsufficientBalance(required.Int64(), current.Int64())
	})
	return ledger.NewGuard(service.ledger, userID, ledger.WithShortfallReporter(reporter))
}

// Wallet returns a fresh balance and recent history.
func (service *Service) Wallet(ctx context.Context, userID ledger.UserID) (WalletSnapshot, error) {
	snapshot, err := service.walletSnapshot(ctx, userID)
	if err != nil {
		service.fail(userID, titleWalletFailed, err)
		return WalletSnapshot{}, err
	}
	return snapshot, nil
}

// Grant tops up a wallet.
func (service *Service) Grant(ctx context.Context, userID ledger.UserID, amount ledger.PositiveCredits, note string) (WalletSnapshot, error) {
	if service.grantLimit > 0 && amount.ToCredits() > service.grantLimit {
		err := fmt.Errorf("%w: %d > %d", ErrGrantLimitExceeded, amount, service.grantLimit)
		service.fail(userID, titleGrantFailed, err)
		return WalletSnapshot{}, err
	}
	metadata, err := buildMetadata(map[string]string{"action": "grant", "note": note})
	if err != nil {
		return WalletSnapshot{}, err
	}
	if _, err := service.ledger.Credit(ctx, userID, amount, ledger.ReasonGrant, "grant:"+uuid.NewString(), metadata); err != nil {
		service.fail(userID, titleGrantFailed, err)
		return WalletSnapshot{}, err
	}
	service.Notifications(userID).Notify(notify.TypeSuccess, titleCreditsAdded, fmt.Sprintf("%d credits were added to your wallet.", amount))
	return service.Wallet(ctx, userID)
}

// PayForTask moves credits from the payer to the payee after a refreshed balance check.
func (service *Service) PayForTask(ctx context.Context, payment TaskPayment) error {
	if err := payment.validate(); err != nil {
		service.Notifications(payment.PayerID).NotifyPaymentError(UserMessage(err))
		return err
	}
	if err := service.authorize(ctx, payment.PayerID, payment.Amount.ToCredits()); err != nil {
		service.failPayment(payment.PayerID, err)
		return err
	}
	metadata, err := buildMetadata(map[string]string{"task_id": payment.TaskID, "title": payment.Title})
	if err != nil {
		return err
	}
	if err := service.ledger.Transfer(ctx, payment.PayerID, payment.PayeeID, payment.Amount, ledger.ReasonTaskPayment, "task:"+payment.TaskID, metadata); err != nil {
		service.Notifications(payment.PayerID).NotifyPaymentError(UserMessage(err))
		return err
	}
	service.Notifications(payment.PayerID).NotifyPaymentSuccess(payment.Amount.Int64(), payment.Title)
	service.Notifications(payment.PayeeID).NotifyTaskPayment(payment.Amount.Int64(), payment.Title)
	return nil
}

// CompleteTask pays for a task and tells both parties it is done.
func (service *Service) CompleteTask(ctx context.Context, payment TaskPayment) error {
	if err := service.PayForTask(ctx, payment); err != nil {
		return err
	}
	service.Notifications(payment.PayerID).NotifyTaskCompleted(payment.Title)
	service.Notifications(payment.PayeeID).NotifyTaskCompleted(payment.Title)
	return nil
}

// RequestRental checks the renter can cover price and deposit, then records the request.
// Credits move only when the rental becomes active.
func (service *Service) RequestRental(ctx context.Context, request rental.RentalRequest) (rental.Rental, error) {
	total, err := request.Validate()
	if err != nil {
		service.fail(request.RenterID, titleRentalFailed, err)
		return rental.Rental{}, err
	}
	obligation := total + request.DepositCredits
	if obligation > 0 {
		if err := service.authorize(ctx, request.RenterID, obligation); err != nil {
			service.failPayment(request.RenterID, err)
			return rental.Rental{}, err
		}
	}
	created, err := service.rentals.RequestRental(ctx, request)
	if err != nil {
		service.fail(request.RenterID, titleRentalFailed, err)
		return rental.Rental{}, err
	}
	service.Notifications(created.RenterID).Notify(notify.TypeSuccess, titleRentalPending,
		fmt.Sprintf("Your request for %s is waiting for the owner. Total %d credits plus %d deposit.", created.ItemID, created.TotalCredits, created.DepositCredits))
	service.Notifications(created.OwnerID).Notify(notify.TypeInfo, titleRentalIncoming,
		fmt.Sprintf("Someone wants to rent %s from %s to %s.", created.ItemID, created.StartDate.Format(dateLayout), created.EndDate.Format(dateLayout)))
	return created, nil
}

// UpdateRentalStatus moves a rental on behalf of one of its participants and settles credits.
func (service *Service) UpdateRentalStatus(ctx context.Context, actorID ledger.UserID, rentalID string, next rental.Status) (rental.Rental, error) {
	current, err := service.rentals.GetRental(ctx, rentalID)
	if err != nil {
		service.fail(actorID, titleUpdateFailed, err)
		return rental.Rental{}, err
	}
	if !current.Involves(actorID) {
		err := fmt.Errorf("%w: %s", ErrNotParticipant, current.ID)
		service.fail(actorID, titleUpdateFailed, err)
		return rental.Rental{}, err
	}
	updated, err := service.settleAndTransition(ctx, current, next)
	if err != nil {
		var shortfall reportedShortfall
		switch {
		case errors.As(err, &shortfall):
			if actorID != current.RenterID {
				service.fail(actorID, titleUpdateFailed, err)
			}
		case errors.Is(err, ledger.ErrInsufficientBalance):
			service.failPayment(current.RenterID, err)
			if actorID != current.RenterID {
				service.fail(actorID, titleUpdateFailed, err)
			}
		default:
			service.fail(actorID, titleUpdateFailed, err)
		}
		return rental.Rental{}, err
	}
	message := fmt.Sprintf("Rental of %s is now %s.", updated.ItemID, updated.Status)
	service.Notifications(updated.OwnerID).Notify(notify.TypeInfo, titleRentalStatus, message)
	service.Notifications(updated.RenterID).Notify(notify.TypeInfo, titleRentalStatus, message)
	return updated, nil
}

// ListRentals returns the user's rentals, newest first.
func (service *Service) ListRentals(ctx context.Context, userID ledger.UserID) ([]rental.Rental, error) {
	rentals, err := service.rentals.ListRentals(ctx, userID)
	if err != nil {
		service.fail(userID, titleRentalsFailed, err)
		return nil, err
	}
	return rentals, nil
}

func (service *Service) walletSnapshot(ctx context.Context, userID ledger.UserID) (WalletSnapshot, error) {
	balance, err := service.ledger.Balance(ctx, userID)
	if err != nil {
		return WalletSnapshot{}, err
	}
	entries, err := service.ledger.ListEntries(ctx, userID, service.historyLimit)
	if err != nil {
		return WalletSnapshot{}, err
	}
	return WalletSnapshot{UserID: userID, Balance: balance, Entries: entries}, nil
}

func (service *Service) authorize(ctx context.Context, userID ledger.UserID, required ledger.Credits) error {
	guard, err := service.Guard(userID)
	if err != nil {
		return err
	}
	if err := guard.Authorize(ctx, required); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return reportedShortfall{err: err}
		}
		return err
	}
	return nil
}

// reportedShortfall marks a shortfall the guard already surfaced as a warning.
type reportedShortfall struct {
	err error
}

func (shortfall reportedShortfall) Error() string {
	return shortfall.err.Error()
}

func (shortfall reportedShortfall) Unwrap() error {
	return shortfall.err
}

// failPayment notifies a failed payment. Guard shortfalls were already reported as warnings.
// Reject reports a request refused before it reached the service and returns err.
func (service *Service) Reject(userID ledger.UserID, action Action, err error) error {
	switch action {
	case ActionPayment:
		service.failPayment(userID, err)
	case ActionGrant:
		service.fail(userID, titleGrantFailed, err)
	case ActionRentalRequest:
		service.fail(userID, titleRentalFailed, err)
	default:
		service.fail(userID, titleUpdateFailed, err)
	}
	return err
}

func (service *Service) failPayment(userID ledger.UserID, err error) {
	if userID.IsZero() {
		return
	}
	var shortfall reportedShortfall
	if errors.As(err, &shortfall) {
		return
	}
	service.Notifications(userID).NotifyPaymentError(UserMessage(err))
}

func (service *Service) fail(userID ledger.UserID, title string, err error) {
	if userID.IsZero() {
		return
	}
	service.Notifications(userID).Notify(notify.TypeError, title, UserMessage(err))
}

func (payment TaskPayment) validate() error {
	if strings.TrimSpace(payment.TaskID) == "" {
		return fmt.Errorf("%w: task id is required", ErrInvalidTaskPayment)
	}
	if payment.PayerID.IsZero() || payment.PayeeID.IsZero() {
		return fmt.Errorf("%w: payer and payee are required", ledger.ErrInvalidUserID)
	}
	if payment.PayerID == payment.PayeeID {
		return fmt.Errorf("%w: payer and payee must differ", ErrInvalidTaskPayment)
	}
	if payment.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ledger.ErrInvalidCredits)
	}
	return nil
}

func buildMetadata(values map[string]string) (ledger.MetadataJSON, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return ledger.MetadataJSON{}, err
	}
	return ledger.NewMetadataJSON(string(raw))
}
