package state

import "strings"

var (
	strZeroBytes32 = strings.Repeat("0", 64)
	strZeroBytes20 = strings.Repeat("0", 40)

	// table that stores the life cycle of a transfer request
	transferTable = `CREATE TABLE IF NOT EXISTS transfer (
		id CHAR(64) PRIMARY KEY NOT NULL,
		sourceDomain INTEGER NOT NULL,
		destDomain INTEGER NOT NULL,
		burnToken CHAR(40) NOT NULL,
		recipient CHAR(40) NOT NULL,
		amount BIGINT UNSIGNED NOT NULL,
		maxFee BIGINT UNSIGNED NOT NULL,
		status VARCHAR(10) NOT NULL,
		burnTxHash CHAR(64) UNIQUE,
		message BLOB,
		attestation BLOB,
		mintTxHash CHAR(64) UNIQUE,
		attempts INTEGER NOT NULL DEFAULT 0,
		failedPhase VARCHAR(10),
		lastError TEXT,
		leaseOwner TEXT,
		leaseUntil INTEGER NOT NULL DEFAULT 0,
		createdAt INTEGER NOT NULL,
		updatedAt INTEGER NOT NULL,
		CONSTRAINT chk_status CHECK (status IN ('created', 'approved', 'burned', 'attested', 'minted', 'failed')),
		CONSTRAINT chk_amount CHECK (amount > 0),
		CONSTRAINT chk_id CHECK (id != '` + strZeroBytes32 + `'),
		CONSTRAINT chk_burnTxHash CHECK (burnTxHash IS NULL OR burnTxHash != '` + strZeroBytes32 + `'),
		CONSTRAINT chk_mintTxHash CHECK (mintTxHash IS NULL OR mintTxHash != '` + strZeroBytes32 + `'),
		CONSTRAINT chk_recipient CHECK (recipient != '` + strZeroBytes20 + `')
	);`

	// append-only ledger linking a source-chain request event to its
	// transfer and swap; the UNIQUE key dedups at-least-once event delivery
	bridgeEventTable = `CREATE TABLE IF NOT EXISTS bridgeEvent (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		chainId INTEGER NOT NULL,
		eventTxHash CHAR(64) NOT NULL,
		logIndex INTEGER NOT NULL,
		transferId CHAR(64) NOT NULL,
		planId INTEGER NOT NULL,
		thresholdIndex INTEGER NOT NULL,
		usdcAmount BIGINT UNSIGNED NOT NULL,
		price TEXT NOT NULL,
		priceUpdatedAt INTEGER NOT NULL,
		mintTxHash CHAR(64),
		swapTxHash CHAR(64),
		btcOut BIGINT UNSIGNED NOT NULL DEFAULT 0,
		createdAt INTEGER NOT NULL,
		CONSTRAINT uq_event UNIQUE (chainId, eventTxHash, logIndex),
		CONSTRAINT chk_transferId CHECK (transferId != '` + strZeroBytes32 + `')
	);`

	// table stores key-value pairs. Both key and value are a 32-byte hex
	// string without prefix '0x'. Used for the listener block checkpoint.
	kvTable = `CREATE TABLE IF NOT EXISTS kv (
		key CHAR(64) PRIMARY KEY NOT NULL,
		value CHAR(64) NOT NULL
	);`

	transferParamList = ` id, sourceDomain, destDomain, burnToken, recipient,
		amount, maxFee, status, burnTxHash, message, attestation, mintTxHash,
		attempts, failedPhase, lastError, createdAt, updatedAt `

	bridgeEventParamList = ` seq, chainId, eventTxHash, logIndex, transferId,
		planId, thresholdIndex, usdcAmount, price, priceUpdatedAt,
		mintTxHash, swapTxHash, btcOut, createdAt `
)
