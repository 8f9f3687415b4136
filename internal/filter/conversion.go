package filter

import (
	"context"
	"errors"
)

// Conversion pairs the input and output node of a processing chain.
type Conversion struct {
	Input  *Node
	Output *Node
}

// NewConversion returns a conversion from in to out. in may be nil when the
// chain has several inputs.
func NewConversion(in, out *Node) (*Conversion, error) {
	if out == nil {
		return nil, errors.New("filter: conversion: nil output node")
	}
	return &Conversion{Input: in, Output: out}, nil
}

// Graph collects every node connected to the output node.
func (c *Conversion) Graph() *Graph {
	return FromNode(c.Output, Both, "")
}

// NewTicket returns a ticket for the output node.
func (c *Conversion) NewTicket(roi Rect, arr *Array, opts ...TicketOption) (*Ticket, error) {
	return NewTicket(c.Output, roi, arr, opts...)
}

// RunPixels prepares the contexts of the ticket's graph and pulls until the
// output node reports the end.
func (c *Conversion) RunPixels(ctx context.Context, t *Ticket) error {
	if err := t.Graph().PrepareContexts(false); err != nil {
		return err
	}
	return t.RunAll(ctx)
}

// ToText renders the conversion graph as dot text.
func (c *Conversion) ToText(head string) string {
	return c.Graph().ToText(head)
}
