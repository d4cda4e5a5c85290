package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind names a notification the engine decides to send.
type NotificationKind string

const (
	NotificationBookingConfirmed NotificationKind = "booking_confirmed"
	NotificationBookingAccepted  NotificationKind = "booking_accepted"
	NotificationBookingCancelled NotificationKind = "booking_cancelled"
	NotificationBookingReminder  NotificationKind = "booking_reminder"
	NotificationOrderCompleted   NotificationKind = "order_completed"
	NotificationPaymentReceived  NotificationKind = "payment_received"
	NotificationRefundIssued     NotificationKind = "refund_issued"
	NotificationInvoiceSent      NotificationKind = "invoice_sent"
)

// RecipientRole tells the delivery side which address book to use.
type RecipientRole string

const (
	RecipientCustomer RecipientRole = "customer"
	RecipientProvider RecipientRole = "provider"
)

// NotificationIntent is emitted by the engine; delivery is somebody else's job.
type NotificationIntent struct {
	Kind          NotificationKind `json:"kind"`
	RecipientID   uuid.UUID        `json:"recipient_id"`
	RecipientRole RecipientRole    `json:"recipient_role"`
	OrderID       *uuid.UUID       `json:"order_id,omitempty"`
	InvoiceID     *uuid.UUID       `json:"invoice_id,omitempty"`
	Subject       string           `json:"subject"`
	Message       string           `json:"message"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// NotificationLogStatus for delivery records.
const (
	NotificationLogStatusSent   = "sent"
	NotificationLogStatusFailed = "failed"
)

// NotificationLog records a dispatched intent.
type NotificationLog struct {
	ID            uuid.UUID        `json:"id"`
	Kind          NotificationKind `json:"kind"`
	RecipientID   uuid.UUID        `json:"recipient_id"`
	RecipientRole RecipientRole    `json:"recipient_role"`
	OrderID       *uuid.UUID       `json:"order_id,omitempty"`
	Subject       string           `json:"subject,omitempty"`
	Status        string           `json:"status"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}
