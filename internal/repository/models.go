package repository

// Models lists every entity owned by the repositories, in dependency order.
// Tests migrate with it; production schemas come from the SQL migrations.
func Models() []interface{} {
	return []interface{}{
		&DepositLimitEntity{},
		&UserEntity{},
		&UserBalanceEntity{},
		&PaymentTransactionEntity{},
	}
}
