package models

// All lists every model for schema migration.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Landlord{},
		&SubscriptionPlan{},
		&Subscription{},
		&ProrationQuote{},
		&Unit{},
		&UtilityRate{},
		&BillingPeriod{},
		&MeterReading{},
		&Invoice{},
		&LeaseAgreement{},
		&PaymentObligation{},
		&LeaseCheckout{},
		&LeaseCheckoutItem{},
		&Payment{},
		&VisitRequest{},
	}
}
