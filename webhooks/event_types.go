package webhooks

// Provider event type tags. The enumeration is closed: handlers
// subscribe to these tags and unknown tags are acknowledged unhandled.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"

	EventSubscriptionCreated  = "customer.subscription.created"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventSubscriptionTrialEnd = "customer.subscription.trial_will_end"
	EventSubscriptionPaused   = "customer.subscription.paused"
	EventSubscriptionResumed  = "customer.subscription.resumed"

	EventInvoiceCreated       = "invoice.created"
	EventInvoiceFinalized     = "invoice.finalized"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventInvoiceUpcoming      = "invoice.upcoming"
	EventInvoiceUncollectible = "invoice.marked_uncollectible"
	EventInvoiceVoided        = "invoice.voided"

	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"

	EventChargeSucceeded = "charge.succeeded"
	EventChargeFailed    = "charge.failed"
	EventChargeRefunded  = "charge.refunded"
	EventDisputeCreated  = "charge.dispute.created"
	EventDisputeClosed   = "charge.dispute.closed"

	EventCustomerCreated = "customer.created"
	EventCustomerUpdated = "customer.updated"
	EventCustomerDeleted = "customer.deleted"

	EventPaymentMethodAttached = "payment_method.attached"
	EventPaymentMethodDetached = "payment_method.detached"

	EventProductCreated = "product.created"
	EventProductUpdated = "product.updated"
	EventPriceCreated   = "price.created"
	EventPriceUpdated   = "price.updated"
)
