package recorder

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

var (
	errTransactionNotStarted = errors.New("transaction was not started")
	errTransactionFinished   = errors.New("transaction already finished")
)

// Transaction groups the requests a scenario makes between Start and Finish
// into one named node of the result tree. Transactions nest.
type Transaction struct {
	name string
	rec  *Recorder

	start   time.Time
	finish  time.Time
	success *bool
	message string

	responseCode int
	request      string
	response     string
	extras       map[string]any

	started  bool
	finished bool
}

// Transaction creates a transaction bound to r. Nothing is recorded until Start.
func (r *Recorder) Transaction(name string) *Transaction {
	return &Transaction{name: name, rec: r, extras: map[string]any{}}
}

// Start records the opening of the transaction.
func (t *Transaction) Start() {
	if t.started {
		return
	}
	t.started = true
	t.start = t.rec.Now()
	t.rec.Record(TransactionStarted{At: t.start, Name: t.name})
}

// Finish records the closing of the transaction.
func (t *Transaction) Finish() error {
	if !t.started {
		return fmt.Errorf("%s: %w", t.name, errTransactionNotStarted)
	}
	if t.finished {
		return fmt.Errorf("%s: %w", t.name, errTransactionFinished)
	}
	t.finished = true
	t.finish = t.rec.Now()
	t.rec.Record(TransactionEnded{At: t.finish, Name: t.name, Txn: t})
	return nil
}

// Do runs fn inside the transaction. An error returned by fn fails the
// transaction with its text and is passed back to the caller.
func (t *Transaction) Do(fn func() error) (err error) {
	t.Start()
	defer func() {
		if finishErr := t.Finish(); finishErr != nil && err == nil {
			err = finishErr
		}
	}()
	if err = fn(); err != nil {
		t.Fail(err.Error())
	}
	return err
}

// Fail marks the transaction failed with message.
func (t *Transaction) Fail(message string) {
	ok := false
	t.success = &ok
	t.message = message
}

// Succeed marks the transaction passed, overriding the status of its children.
func (t *Transaction) Succeed() {
	ok := true
	t.success = &ok
	t.message = ""
}

func (t *Transaction) SetResponseCode(code int) { t.responseCode = code }
func (t *Transaction) SetRequest(body string) { t.request = body }
func (t *Transaction) SetResponse(body string) { t.response = body }
func (t *Transaction) AttachExtra(key string, v any) { t.extras[key] = v }

func (t *Transaction) Name() string { return t.name }
func (t *Transaction) StartTime() time.Time { return t.start }
func (t *Transaction) Message() string { return t.message }
func (t *Transaction) ResponseCode() int { return t.responseCode }
func (t *Transaction) RequestBody() string { return t.request }
func (t *Transaction) ResponseBody() string { return t.response }

// Duration is the time between Start and Finish, or zero while still open.
func (t *Transaction) Duration() time.Duration {
	if !t.finished {
		return 0
	}
	return t.finish.Sub(t.start)
}

// Result reports the outcome set by Fail or Succeed. set is false when the
// scenario left the outcome to be derived from the transaction's children.
func (t *Transaction) Result() (success bool, set bool) {
	if t.success == nil {
		return false, false
	}
	return *t.success, true
}

// Extras returns a copy of the values attached with AttachExtra.
func (t *Transaction) Extras() map[string]any {
	return maps.Clone(t.extras)
}
