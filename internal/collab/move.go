package collab

import (
	"context"

	"github.com/conneroisu/pagecraft/internal/errors"
)

// MoveAcrossPages moves the subtree rooted at id from one page of a
// project to another, under parentID at index (-1 appends). Both rooms are
// held while the subtree is deleted from the source and inserted into the
// target, so no session sees it on both pages or, once the call returns, on
// neither. When the target refuses the subtree it is put back where it was
// and the target's error is returned.
func (h *Hub) MoveAcrossPages(ctx context.Context, projectID, fromPage, toPage, id, parentID string, index int) error {
	src, err := h.room(ctx, projectID, fromPage)
	if err != nil {
		return err
	}
	if fromPage == toPage {
		var moveErr error
		if !src.do(func() {
			rec, err := src.store.Move(id, parentID, index)
			if err != nil {
				moveErr = err
				return
			}
			src.publish(rec)
		}) {
			return errors.NewPageUnavailable(fromPage)
		}
		return moveErr
	}

	dst, err := h.room(ctx, projectID, toPage)
	if err != nil {
		return err
	}

	var moveErr error
	ok := h.withRooms(src, dst, func() {
		moveErr = h.transfer(ctx, src, dst, id, parentID, index)
	})
	if !ok {
		return errors.NewPageUnavailable(toPage)
	}
	if moveErr == nil {
		h.logger.Info(ctx, "element moved across pages", "project", projectID, "id", id, "from", fromPage, "to", toPage)
	}
	return moveErr
}

// transfer runs with both rooms held.
func (h *Hub) transfer(ctx context.Context, src, dst *room, id, parentID string, index int) error {
	el, err := src.store.Get(id)
	if err != nil {
		return err
	}
	origParent := el.ParentID
	origIndex := -1
	siblings, err := src.store.ChildrenOf(origParent)
	if err != nil {
		return err
	}
	for i, sib := range siblings {
		if sib.ID == id {
			origIndex = i
			break
		}
	}

	removed, err := src.store.Delete(id, true)
	if err != nil {
		return err
	}
	src.publish(removed)

	moved := el.Clone()
	moved.PageID = ""
	inserted, insertErr := dst.store.Insert(moved, parentID, index)
	if insertErr == nil {
		dst.publish(inserted)
		return nil
	}

	back := el.Clone()
	back.PageID = ""
	restored, err := src.store.Insert(back, origParent, origIndex)
	if err != nil {
		h.logger.Error(ctx, err, "could not restore element after refused move", "page", src.pageID, "id", id)
		return errors.Join(insertErr, err)
	}
	src.publish(restored)
	return insertErr
}

// withRooms runs fn while both rooms are parked on it, taking them in key
// order so concurrent moves between the same pages cannot deadlock. It
// reports false when either room has stopped.
func (h *Hub) withRooms(a, b *room, fn func()) bool {
	first, second := a, b
	if roomKey(b.projectID, b.pageID) < roomKey(a.projectID, a.pageID) {
		first, second = b, a
	}
	inner := false
	outer := first.do(func() {
		inner = second.do(fn)
	})
	return outer && inner
}
