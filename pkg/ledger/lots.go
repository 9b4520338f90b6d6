package ledger

import (
	"fmt"
	"math"
)

type lotRecord struct {
	payer     PayerName
	remaining int64
}

// lotBook keeps every lot in one chronological arena. Lots before head are
// closed and lots from head onward are open, so lots[head] is the oldest open
// lot across all payers. Per-payer queues index into the arena. open is the
// running sum of the open lots; a deposit that would overflow it is rejected.
type lotBook struct {
	lots        []lotRecord
	head        int
	open        int64
	payerQueues map[string][]int
	payerHeads  map[string]int
	payerOrder  []PayerName
}

func newLotBook(capacityHint int) *lotBook {
	return &lotBook{
		lots:        make([]lotRecord, 0, capacityHint),
		payerQueues: make(map[string][]int),
		payerHeads:  make(map[string]int),
	}
}

func (book *lotBook) registerPayer(payer PayerName) {
	if _, known := book.payerQueues[payer.String()]; known {
		return
	}
	book.payerQueues[payer.String()] = nil
	book.payerHeads[payer.String()] = 0
	book.payerOrder = append(book.payerOrder, payer)
}

func (book *lotBook) deposit(payer PayerName, points int64) error {
	if points < 0 || points > math.MaxInt64-book.open {
		return WrapError(operationIngest, subjectLot, codeOverflow, fmt.Errorf("%w: deposit of %d by %q on top of %d open points", ErrCapacityOverflow, points, payer.String(), book.open))
	}
	book.registerPayer(payer)
	handle := len(book.lots)
	book.lots = append(book.lots, lotRecord{payer: payer, remaining: points})
	book.payerQueues[payer.String()] = append(book.payerQueues[payer.String()], handle)
	book.open += points
	return nil
}

func (book *lotBook) empty() bool {
	return book.head >= len(book.lots)
}

func (book *lotBook) capacity() int64 {
	return book.open
}

// consume removes up to want points from the oldest open lots. A lot with
// a positive leftover stays at the front; a lot reaching zero is closed.
func (book *lotBook) consume(operation string, want int64) (int64, []Depletion, error) {
	var (
		taken      int64
		depletions []Depletion
	)
	for taken < want && !book.empty() {
		handle := book.head
		lot := &book.lots[handle]
		if lot.remaining < 0 {
			return taken, depletions, WrapError(operation, subjectLot, codeLotUnderflow, fmt.Errorf("%w: lot %d holds %d", ErrInvariantViolation, handle, lot.remaining))
		}
		outstanding := want - taken
		if lot.remaining > outstanding {
			lot.remaining -= outstanding
			book.open -= outstanding
			taken += outstanding
			depletions = append(depletions, Depletion{Payer: lot.payer, Sequence: handle, Points: outstanding})
			break
		}
		if lot.remaining > 0 {
			taken += lot.remaining
			book.open -= lot.remaining
			depletions = append(depletions, Depletion{Payer: lot.payer, Sequence: handle, Points: lot.remaining})
			lot.remaining = 0
		}
		if err := book.closeHead(operation); err != nil {
			return taken, depletions, err
		}
	}
	return taken, depletions, nil
}

func (book *lotBook) closeHead(operation string) error {
	handle := book.head
	payer := book.lots[handle].payer.String()
	queue := book.payerQueues[payer]
	payerHead := book.payerHeads[payer]
	if payerHead >= len(queue) || queue[payerHead] != handle {
		return WrapError(operation, subjectLot, codeInvalid, fmt.Errorf("%w: payer %q queue out of step with lot %d", ErrInvariantViolation, payer, handle))
	}
	book.payerHeads[payer] = payerHead + 1
	book.head++
	return nil
}

func (book *lotBook) balances() Balances {
	balances := make(Balances, len(book.payerOrder))
	for _, payer := range book.payerOrder {
		name := payer.String()
		var total int64
		queue := book.payerQueues[name]
		for _, handle := range queue[book.payerHeads[name]:] {
			total += book.lots[handle].remaining
		}
		balances[name] = total
	}
	return balances
}

func (book *lotBook) openLots() []Lot {
	open := make([]Lot, 0, len(book.lots)-book.head)
	for handle := book.head; handle < len(book.lots); handle++ {
		lot := book.lots[handle]
		open = append(open, Lot{Payer: lot.payer, Remaining: lot.remaining, Sequence: handle})
	}
	return open
}

func (book *lotBook) clone() *lotBook {
	copied := &lotBook{
		lots:        append([]lotRecord(nil), book.lots...),
		head:        book.head,
		open:        book.open,
		payerQueues: make(map[string][]int, len(book.payerQueues)),
		payerHeads:  make(map[string]int, len(book.payerHeads)),
		payerOrder:  append([]PayerName(nil), book.payerOrder...),
	}
	for payer, queue := range book.payerQueues {
		copied.payerQueues[payer] = append([]int(nil), queue...)
	}
	for payer, head := range book.payerHeads {
		copied.payerHeads[payer] = head
	}
	return copied
}
