package board

import (
	"context"

	"prism-board/domain"
)

// withCard replaces card i by the result of fn.
func (b *Board) withCard(cards []domain.Card, i int, fn func(c *domain.Card)) {
	next := cards[i].Clone()
	fn(&next)
	b.commit(map[string]any{sliceCards: replaceAt(cards, i, next)})
}

func addComment(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*AddComment)
	cards := b.cards()
	i := indexBy(cards, cardID, c.CardID)
	if i < 0 {
		return nil, errSkip
	}
	if c.ID == "" {
		c.ID = c.Comment.ID
	}
	if c.ID == "" {
		c.ID = b.NewID()
	}
	if indexBy(cards[i].Comments, commentID, c.ID) >= 0 {
		return nil, errSkip
	}
	comment := c.Comment
	comment.ID = c.ID
	comment.CardID = c.CardID
	if comment.UserID == "" {
		comment.UserID = b.cfg.CurrentUser
	}
	c.Comment = comment
	b.withCard(cards, i, func(card *domain.Card) {
		card.Comments = insertBefore(card.Comments, commentID, comment, c.Before)
	})

	return func(ctx context.Context) {
		b.run(ctx, &DeleteComment{Meta: Meta{SkipHistory: true}, CardID: comment.CardID, ID: comment.ID})
	}, nil
}

func updateComment(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*UpdateComment)
	cards := b.cards()
	i := indexBy(cards, cardID, c.CardID)
	if i < 0 {
		return nil, errSkip
	}
	j := indexBy(cards[i].Comments, commentID, c.ID)
	if j < 0 {
		return nil, errSkip
	}
	prev := cards[i].Comments[j]
	next := c.Comment
	next.ID, next.CardID = prev.ID, prev.CardID
	if next.UserID == "" {
		next.UserID = prev.UserID
	}
	if next.Date.IsZero() {
		next.Date = prev.Date
	}
	if next == prev {
		return nil, errSkip
	}
	c.Comment = next
	b.withCard(cards, i, func(card *domain.Card) {
		card.Comments = replaceAt(card.Comments, j, next)
	})

	return func(ctx context.Context) {
		b.run(ctx, &UpdateComment{Meta: Meta{SkipHistory: true}, CardID: prev.CardID, ID: prev.ID, Comment: prev})
	}, nil
}

func deleteComment(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*DeleteComment)
	cards := b.cards()
	i := indexBy(cards, cardID, c.CardID)
	if i < 0 {
		return nil, errSkip
	}
	comments := cards[i].Comments
	j := indexBy(comments, commentID, c.ID)
	if j < 0 {
		return nil, errSkip
	}
	prev := comments[j]
	before := successor(comments, commentID, j)
	b.withCard(cards, i, func(card *domain.Card) {
		card.Comments = removeAt(card.Comments, j)
	})

	return func(ctx context.Context) {
		b.run(ctx, &AddComment{Meta: Meta{SkipHistory: true}, CardID: c.CardID, ID: prev.ID, Comment: prev, Before: before})
	}, nil
}

func addVote(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*AddVote)
	if c.UserID == "" {
		c.UserID = b.cfg.CurrentUser
	}
	cards := b.cards()
	i := indexBy(cards, cardID, c.CardID)
	if i < 0 || c.UserID == "" || indexBy(cards[i].Votes, userID, c.UserID) >= 0 {
		return nil, errSkip
	}
	b.withCard(cards, i, func(card *domain.Card) {
		card.Votes = insertBefore(card.Votes, userID, c.UserID, c.Before)
	})

	return func(ctx context.Context) {
		b.run(ctx, &DeleteVote{Meta: Meta{SkipHistory: true}, CardID: c.CardID, UserID: c.UserID})
	}, nil
}

func deleteVote(_ context.Context, b *Board, cmd Command) (inverse, error) {
	c := cmd.(*DeleteVote)
	if c.UserID == "" {
		c.UserID = b.cfg.CurrentUser
	}
	cards := b.cards()
	i := indexBy(cards, cardID, c.CardID)
	if i < 0 {
		return nil, errSkip
	}
	votes := cards[i].Votes
	j := indexBy(votes, userID, c.UserID)
	if j < 0 {
		return nil, errSkip
	}
	before := successor(votes, userID, j)
	b.withCard(cards, i, func(card *domain.Card) {
		card.Votes = removeAt(card.Votes, j)
	})

	return func(ctx context.Context) {
		b.run(ctx, &AddVote{Meta: Meta{SkipHistory: true}, CardID: c.CardID, UserID: c.UserID, Before: before})
	}, nil
}
