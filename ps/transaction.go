package ps

import (
	"fmt"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
)

// Transaction is one catalog commit.
type Transaction struct {
	Id      string
	When    time.Time
	Author  string // "Name <email>" format
	Message string
}

func (transaction Transaction) String() string {
	return fmt.Sprintf("Transaction{Id: %s, When: %s, Author: %s}", transaction.Id, transaction.When, transaction.Author)
}

func toTransaction(c *object.Commit) Transaction {
	author := ""
	if c.Author.Name != "" || c.Author.Email != "" {
		author = fmt.Sprintf("%s <%s>", c.Author.Name, c.Author.Email)
	}
	return Transaction{
		Id:      c.Hash.String(),
		When:    c.Committer.When,
		Author:  author,
		Message: c.Message,
	}
}

// LatestTransaction returns the catalog HEAD, or the zero Transaction for an
// empty catalog.
func (persistence *Persistence) LatestTransaction() Transaction {
	head, err := persistence.head()
	if err != nil || head == nil {
		return Transaction{}
	}
	return toTransaction(head)
}

func (persistence *Persistence) TransactionsSince(asof time.Time) ([]Transaction, error) {
	if persistence.LatestTransaction().Id == "" {
		return nil, nil
	}

	cIter, err := persistence.repo.Log(&git.LogOptions{
		Since: &asof,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog log: %w", err)
	}

	var transactions []Transaction
	err = cIter.ForEach(func(c *object.Commit) error {
		transactions = append(transactions, toTransaction(c))
		return nil
	})
	return transactions, err
}

func (persistence *Persistence) TransactionsFrom(asof string) ([]Transaction, error) {
	cIter, err := persistence.repo.Log(&git.LogOptions{
		From: plumbing.NewHash(asof),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog log: %w", err)
	}

	var transactions []Transaction
	err = cIter.ForEach(func(c *object.Commit) error {
		transactions = append(transactions, toTransaction(c))
		return nil
	})
	return transactions, err
}
