/*
Core runs the single-threaded trading loop.

# Module
  - router: applies market data to the books and fans out to strategies
  - strategy host: invokes strategies and stages their intents
  - risk gate: checks every intent against limits and current exposure
  - gateway: order state machine, venue dispatch, ack and cancel deadlines
  - ledger: positions and pnl, moved by fills only
  - timer wheel: ack deadlines, quote refresh, day roll

# Source
 1. venue callbacks from order workers or the simulated venue
 2. market data from the feed or a backtest source
 3. operator commands from the status server

# Priority
  - venue callbacks > market data > staged intents > timers > control

# Produce
  - event log records: intents, risk decisions, order transitions, fills
*/
package core
