// Package consensus implements the replica and leader logic of the chained
// BFT protocol: proposal validation, voting, vote aggregation, view changes,
// and the three-chain commit rule. The task reacts to a single typed event
// bus and processes events serially in arrival order.
package consensus

import (
	"fmt"
	"time"

	"github.com/meridian-bft/meridian"
	"github.com/meridian-bft/meridian/committee"
	"github.com/meridian-bft/meridian/crypto"
	"github.com/meridian-bft/meridian/eventloop"
	"github.com/meridian-bft/meridian/logging"
	"github.com/meridian-bft/meridian/synchronizer"
)

// lookAhead is how many views ahead of the current view the replica
// pre-connects to future leaders.
const lookAhead = 5

// AnchorStore persists decided anchor leaves. Durability is advisory at this
// layer: a store failure is logged and consensus continues.
type AnchorStore interface {
	StoreAnchor(leaf meridian.Leaf) error
}

// CommitmentAndMetadata is a staged payload commitment awaiting the leader's
// next proposal.
type CommitmentAndMetadata struct {
	Commitment meridian.Hash
	Metadata   []byte
	IsGenesis  bool
}

// Config collects the capabilities a consensus task is built from.
type Config struct {
	ID       meridian.ID
	Signer   *crypto.Signer
	Quorum   *committee.Committee
	DA       *committee.Committee
	Verifier *crypto.CertVerifier
	Timeout  time.Duration
	Storage  AnchorStore
	// AppEvents receives the application event stream. May be nil.
	AppEvents func(meridian.Event)
	Logger    logging.Logger
}

// Consensus is the per-node consensus task. All fields below the state are
// owned by the event loop goroutine; vote accumulators never touch the shared
// state, they only emit certificate events back onto the bus.
type Consensus struct {
	id       meridian.ID
	signer   *crypto.Signer
	quorum   *committee.Committee
	da       *committee.Committee
	verifier *crypto.CertVerifier

	state     *State
	eventLoop *eventloop.EventLoop
	timer     *synchronizer.ViewTimer
	storage   AnchorStore
	appSend   func(meridian.Event)
	logger    logging.Logger

	curView meridian.View
	version meridian.Version

	payloadCommitment  *CommitmentAndMetadata
	currentProposal    *meridian.QuorumProposal
	vidShares          map[meridian.View]meridian.SignedVidShare
	pendingTC          *meridian.TimeoutCert
	upgradeCert        *meridian.UpgradeCert
	decidedUpgradeCert *meridian.UpgradeCert

	lastVotedView   meridian.View
	lastTimeoutVote *meridian.TimeoutVote

	quorumVotes  *voteAccumulator
	timeoutVotes *voteAccumulator
	daVotes      *voteAccumulator
}

// New builds the consensus task on top of the given state and event loop and
// registers its handlers. The genesis payload commitment is staged so that
// the view-1 leader can propose immediately.
func New(cfg Config, state *State, el *eventloop.EventLoop) *Consensus {
	if cfg.Logger == nil {
		cfg.Logger = logging.New(fmt.Sprintf("consensus%d", cfg.ID))
	}
	c := &Consensus{
		id:        cfg.ID,
		signer:    cfg.Signer,
		quorum:    cfg.Quorum,
		da:        cfg.DA,
		verifier:  cfg.Verifier,
		state:     state,
		eventLoop: el,
		timer:     synchronizer.NewViewTimer(el, cfg.Timeout),
		storage:   cfg.Storage,
		appSend:   cfg.AppEvents,
		logger:    cfg.Logger,
		version:   meridian.Base,
		vidShares: make(map[meridian.View]meridian.SignedVidShare),
		payloadCommitment: &CommitmentAndMetadata{
			IsGenesis: true,
		},
	}

	el.RegisterHandler(meridian.QuorumProposalRecv{}, func(event any) {
		c.onQuorumProposalRecv(event.(meridian.QuorumProposalRecv))
	})
	el.RegisterHandler(meridian.QuorumVoteRecv{}, func(event any) {
		c.onQuorumVoteRecv(event.(meridian.QuorumVoteRecv).Vote)
	})
	el.RegisterHandler(meridian.TimeoutVoteRecv{}, func(event any) {
		c.onTimeoutVoteRecv(event.(meridian.TimeoutVoteRecv).Vote)
	})
	el.RegisterHandler(meridian.DAVoteRecv{}, func(event any) {
		c.onDAVoteRecv(event.(meridian.DAVoteRecv).Vote)
	})
	el.RegisterHandler(meridian.DACRecv{}, func(event any) {
		c.onDACRecv(event.(meridian.DACRecv).Cert)
	})
	el.RegisterHandler(meridian.VidDisperseRecv{}, func(event any) {
		c.onVidDisperseRecv(event.(meridian.VidDisperseRecv))
	})
	el.RegisterHandler(meridian.QCFormed{}, func(event any) {
		c.onQCFormed(event.(meridian.QCFormed).Cert)
	})
	el.RegisterHandler(meridian.UpgradeCertificateFormed{}, func(event any) {
		c.onUpgradeCertFormed(event.(meridian.UpgradeCertificateFormed).Cert)
	})
	el.RegisterHandler(meridian.SendPayloadCommitmentAndMetadata{}, func(event any) {
		c.onPayloadCommitment(event.(meridian.SendPayloadCommitmentAndMetadata))
	})
	el.RegisterHandler(meridian.ViewChange{}, func(event any) {
		c.onViewChange(event.(meridian.ViewChange).View)
	})
	el.RegisterHandler(meridian.Timeout{}, func(event any) {
		c.onTimeout(event.(meridian.Timeout).View)
	})
	el.RegisterHandler(meridian.Shutdown{}, func(any) {
		c.onShutdown()
	})

	return c
}

// CurView returns the view the task is executing in.
func (c *Consensus) CurView() meridian.View {
	return c.curView
}

// Version returns the protocol version currently in effect.
func (c *Consensus) Version() meridian.Version {
	return c.version
}

// State returns the shared consensus state.
func (c *Consensus) State() *State {
	return c.state
}

func (c *Consensus) sendAppEvent(view meridian.View, e any) {
	if c.appSend != nil {
		c.appSend(meridian.Event{View: view, E: e})
	}
}

// updateView advances the current view, cancels the old timeout timer, arms a
// new one, and issues the polling directives for the new view. It only acts
// when the view strictly advances.
func (c *Consensus) updateView(newView meridian.View) bool {
	if newView <= c.curView {
		return false
	}
	c.logger.Debugf("updating view from %d to %d", c.curView, newView)

	if c.curView/100 != newView/100 {
		c.logger.Infof("progress: entered view %6d", newView)
	}

	c.timer.Stop()
	c.curView = newView

	// Drop VID shares that can no longer matter.
	for view := range c.vidShares {
		if view+1 < c.curView {
			delete(c.vidShares, view)
		}
	}

	lookaheadView := newView + lookAhead
	if leader := c.quorum.Leader(lookaheadView); leader != c.id {
		c.eventLoop.AddEvent(meridian.PollFutureLeader{View: lookaheadView, Leader: leader})
	}

	c.eventLoop.AddEvent(meridian.PollForProposal{View: c.curView + 1})
	c.eventLoop.AddEvent(meridian.PollForDAC{View: c.curView + 1})
	if c.quorum.Leader(c.curView+1) == c.id {
		c.logger.Debugf("polling for quorum votes for view %d", c.curView)
		c.eventLoop.AddEvent(meridian.PollForVotes{View: c.curView})
	}

	c.eventLoop.AddEvent(meridian.ViewChange{View: newView})

	// Timeout on view+1: the timer fires when no evidence arrives to move
	// past the view we just entered.
	c.timer.Arm(c.curView + 1)

	m := c.state.Metrics()
	m.CurrentView.Set(uint64(c.curView))
	m.ViewsSinceLastDecide.Set(uint64(c.curView) - uint64(c.state.LastDecidedView()))
	return true
}

// onQuorumProposalRecv runs the replica pipeline of checks on an incoming
// proposal: freshness, leader match, timeout-certificate attachment, justify
// QC validity, upgrade-certificate validity, parent resolution, header state
// transition, proposer signature, and the safety/liveness decision. All
// failures are silent drops apart from their logs and metrics.
func (c *Consensus) onQuorumProposalRecv(recv meridian.QuorumProposalRecv) {
	proposal := recv.Proposal
	view := proposal.Data.View
	c.logger.Debugf("received quorum proposal for view %d", view)

	c.eventLoop.AddEvent(meridian.CancelPollForProposal{View: view})

	if view < c.curView {
		c.logger.Debugf("proposal is from an older view %d", view)
		return
	}

	if c.quorum.Leader(view) != recv.Sender {
		c.logger.Warnf("proposal for view %d is not from the view leader", view)
		return
	}

	justifyQC := proposal.Data.JustifyQC

	// A proposal not extending the immediately preceding view must carry a
	// valid timeout certificate for exactly that view.
	if justifyQC.View != view-1 {
		tc := proposal.Data.TimeoutCert
		if tc == nil {
			c.logger.Warnf("proposal for view %d needed a timeout certificate but had none", view)
			return
		}
		if tc.Data.View != view-1 {
			c.logger.Warnf("timeout certificate attached to view %d is not for view %d", view, view-1)
			return
		}
		if !c.verifier.VerifyTimeoutCert(*tc) {
			c.logger.Warnf("timeout certificate for view %d is invalid", view)
			return
		}
	}

	if !c.verifier.VerifyQuorumCert(justifyQC) {
		c.logger.Errorf("invalid justify QC in proposal for view %d", view)
		c.state.Metrics().InvalidQC.Add(1)
		return
	}

	// An attached upgrade certificate has already been voted on; it is either
	// valid or the proposal is dropped.
	if proposal.Data.UpgradeCert != nil && !c.verifier.VerifyUpgradeCert(*proposal.Data.UpgradeCert) {
		c.logger.Errorf("invalid upgrade certificate in proposal for view %d", view)
		return
	}

	c.updateView(view)

	// Resolve the parent leaf and its validated state.
	var (
		parentLeaf  meridian.Leaf
		parentState *meridian.ValidatedState
		haveParent  bool
	)
	if justifyQC.IsGenesis {
		parentLeaf = meridian.GenesisLeaf(c.state.Instance())
		parentState = meridian.GenesisState(c.state.Instance())
		haveParent = true
		c.sendAppEvent(meridian.GenesisView, meridian.Decide{
			LeafChain: []meridian.DecidedLeaf{{Leaf: parentLeaf}},
			QC:        justifyQC,
		})
	} else if leaf, ok := c.state.Leaf(justifyQC.Data.LeafCommit); ok {
		inner, ok := c.state.ViewState(leaf.View)
		if !ok || inner.State == nil {
			c.logger.Errorf("parent state not found, consensus internally inconsistent")
			return
		}
		parentLeaf = leaf
		parentState = inner.State
		haveParent = true
	}

	if !haveParent {
		c.onMissingParent(proposal, recv.Sender)
		return
	}

	c.state.UpdateHighQC(justifyQC)

	newState, err := parentState.ValidateAndApplyHeader(
		c.state.Instance(), parentLeaf.BlockHeader, proposal.Data.BlockHeader)
	if err != nil {
		c.logger.Errorf("block header does not extend the parent: %v", err)
		return
	}

	leaf := meridian.Leaf{
		View:             view,
		JustifyQC:        justifyQC,
		ParentCommitment: parentLeaf.Commit(),
		BlockHeader:      proposal.Data.BlockHeader,
		Proposer:         recv.Sender,
	}
	leafCommit := leaf.Commit()

	leaderKey, ok := c.quorum.Key(recv.Sender)
	if !ok || !crypto.Verify(leaderKey, leafCommit[:], proposal.Signature) {
		c.logger.Errorf("could not verify proposal signature for view %d", view)
		return
	}

	// Liveness check.
	lockedView := c.state.LockedView()
	livenessCheck := justifyQC.View > lockedView

	// Safety check: the proposal must extend from the locked leaf.
	outcome := c.state.VisitLeafAncestors(justifyQC.View, Inclusive(lockedView), false,
		func(ancestor meridian.Leaf) bool {
			return ancestor.View != lockedView
		})
	safetyCheck := outcome == nil
	if outcome != nil {
		c.sendAppEvent(view, meridian.Error{Err: outcome})
	}

	if !safetyCheck && !livenessCheck {
		c.logger.Errorf("proposal for view %d failed safety and liveness checks; locked view %d, justify view %d",
			view, lockedView, justifyQC.View)
		c.sendAppEvent(view, meridian.Error{Err: ErrUnsafeProposal})
		return
	}

	c.currentProposal = &proposal.Data
	c.sendAppEvent(c.curView, meridian.QuorumProposalEvent{Proposal: proposal, Sender: recv.Sender})

	// Run the chain commit rule before persisting the new leaf; the walk
	// starts at the already-saved parent.
	commit := c.runCommitRule(leaf, proposal.Data.UpgradeCert)

	c.state.SaveLeaf(leaf, newState)

	if commit.commitReached {
		c.state.SetLockedView(commit.newLockedView)
	}
	if commit.decideReached {
		c.finalizeDecide(commit)
	}

	// This node may be the next leader holding a QC for a proposal it only
	// just saw.
	newView := c.currentProposal.View + 1
	highQC := c.state.HighQC()
	if c.quorum.Leader(newView) == c.id && highQC.View == c.currentProposal.View {
		c.logger.Debugf("attempting to publish proposal after voting; now in view %d", newView)
		c.publishProposalIfAble(highQC.View+1, nil)
	}

	if c.voteIfAble() {
		c.currentProposal = nil
	}
}

// onMissingParent handles a proposal whose parent leaf is not stored: the
// liveness-only fallback. A placeholder leaf is inserted, the validated state
// is derived from the header alone, and the vote decision rests on the
// liveness check only.
func (c *Consensus) onMissingParent(proposal meridian.SignedProposal, sender meridian.ID) {
	justifyQC := proposal.Data.JustifyQC
	view := proposal.Data.View
	c.logger.Errorf("proposal's parent missing from storage, commitment %s", justifyQC.Data.LeafCommit)

	leaf := meridian.Leaf{
		View:             view,
		JustifyQC:        justifyQC,
		ParentCommitment: justifyQC.Data.LeafCommit,
		BlockHeader:      proposal.Data.BlockHeader,
		Proposer:         sender,
	}
	c.state.SaveLeaf(leaf, meridian.FromHeader(proposal.Data.BlockHeader))

	livenessCheck := justifyQC.View > c.state.LockedView()
	if !livenessCheck {
		c.logger.Warnf("failed liveness check and cannot find parent; justify view %d, locked view %d",
			justifyQC.View, c.state.LockedView())
		return
	}

	c.currentProposal = &proposal.Data

	newView := proposal.Data.View + 1
	highQC := c.state.HighQC()
	if c.quorum.Leader(newView) == c.id && highQC.View == proposal.Data.View {
		c.publishProposalIfAble(highQC.View+1, nil)
	}
	if c.voteIfAble() {
		c.currentProposal = nil
	}
}

// commitOutcome is what one application of the chain commit rule produced.
type commitOutcome struct {
	commitReached bool
	decideReached bool
	newLockedView meridian.View
	newAnchorView meridian.View
	decideQC      *meridian.QuorumCert
	leafChain     []meridian.DecidedLeaf
	leavesDecided []meridian.Leaf
	includedTxns  map[meridian.Hash]struct{}
}

// runCommitRule walks the ancestry of the newly accepted leaf, counting
// contiguous view links. A two-chain locks; a three-chain decides, and every
// leaf at or below the new anchor joins the decided chain.
func (c *Consensus) runCommitRule(leaf meridian.Leaf, upgradeCert *meridian.UpgradeCert) commitOutcome {
	out := commitOutcome{
		newLockedView: c.state.LockedView(),
		newAnchorView: c.state.LastDecidedView(),
		includedTxns:  make(map[meridian.Hash]struct{}),
	}

	oldAnchor := c.state.LastDecidedView()
	parentView := leaf.JustifyQC.View
	if parentView+1 != leaf.View {
		// Broken chain: no commit action.
		return out
	}

	lastVisited := leaf.View
	chainLength := 1
	err := c.state.VisitLeafAncestors(parentView, Exclusive(oldAnchor), true,
		func(ancestor meridian.Leaf) bool {
			if !out.decideReached {
				if lastVisited != ancestor.View+1 {
					// No further chain extension.
					return false
				}
				lastVisited = ancestor.View
				chainLength++
				switch chainLength {
				case 2:
					out.newLockedView = ancestor.View
					out.commitReached = true
					// The next leaf in the chain is decided, so this leaf's
					// justify QC becomes the QC for the decided chain.
					qc := ancestor.JustifyQC
					out.decideQC = &qc
				case 3:
					out.newAnchorView = ancestor.View
					out.decideReached = true
				}
			}
			if out.decideReached {
				c.collectDecidedLeaf(&out, ancestor, upgradeCert)
			}
			return true
		})
	if err != nil {
		c.logger.Errorf("commit rule walk: %v", err)
		c.sendAppEvent(leaf.View, meridian.Error{Err: err})
	}
	return out
}

func (c *Consensus) collectDecidedLeaf(out *commitOutcome, leaf meridian.Leaf, upgradeCert *meridian.UpgradeCert) {
	if leaf.View == out.newAnchorView {
		c.state.Metrics().LastSyncedBlockHeight.Set(leaf.Height())
	}
	if upgradeCert != nil {
		c.logger.Infof("adopting decided upgrade certificate for version %s", upgradeCert.Data.NewVersion)
		cert := *upgradeCert
		c.decidedUpgradeCert = &cert
	}

	if encoded, ok := c.state.SavedPayload(leaf.View); ok {
		leaf.Payload = encoded
		if payload, err := meridian.PayloadFromBytes(encoded); err == nil {
			for _, txn := range payload.TransactionCommitments() {
				out.includedTxns[txn] = struct{}{}
			}
		}
	}

	var vid *meridian.VidShare
	if share, ok := c.vidShares[leaf.View]; ok {
		data := share.Data
		vid = &data
	}

	out.leafChain = append(out.leafChain, meridian.DecidedLeaf{Leaf: leaf, Vid: vid})
	out.leavesDecided = append(out.leavesDecided, leaf)
}

// finalizeDecide emits the decide events, garbage-collects below the new
// anchor, and hands the anchor leaf to the storage sink.
func (c *Consensus) finalizeDecide(commit commitOutcome) {
	oldAnchor := c.state.LastDecidedView()

	c.eventLoop.AddEvent(meridian.LeafDecided{Leaves: commit.leavesDecided})

	var decideQC meridian.QuorumCert
	if commit.decideQC != nil {
		decideQC = *commit.decideQC
	}
	c.sendAppEvent(commit.newAnchorView, meridian.Decide{
		LeafChain: commit.leafChain,
		QC:        decideQC,
		BlockSize: uint64(len(commit.includedTxns)),
	})

	c.state.CollectGarbage(oldAnchor, commit.newAnchorView)
	for view := range c.vidShares {
		if view < commit.newAnchorView {
			delete(c.vidShares, view)
		}
	}
	c.state.SetLastDecidedView(commit.newAnchorView)

	m := c.state.Metrics()
	m.LastDecidedTime.Set(uint64(time.Now().Unix()))
	m.InvalidQC.Reset()
	m.ViewsPerDecide.AddPoint(float64(uint64(c.curView) - uint64(commit.newAnchorView)))

	if c.storage != nil {
		for _, decided := range commit.leavesDecided {
			if decided.View != commit.newAnchorView {
				continue
			}
			if err := c.storage.StoreAnchor(decided); err != nil {
				c.logger.Errorf("could not store new anchor leaf: %v", err)
			}
		}
	}

	c.logger.Debugf("sent decide for view %d", commit.newAnchorView)
}

// voteIfAble votes on the held proposal once every precondition is met: this
// node has stake, a VID share for the proposal's view has arrived, and a
// matching DA certificate is saved. A genesis proposal votes with neither VID
// nor DA. It reports whether a vote was sent.
func (c *Consensus) voteIfAble() bool {
	if !c.quorum.HasStake(c.id) {
		c.logger.Debugf("not part of the quorum committee in view %d", c.curView)
		return false
	}
	if c.currentProposal == nil {
		c.logger.Debugf("no proposal to vote on in view %d", c.curView)
		return false
	}
	proposal := c.currentProposal

	if proposal.View <= c.lastVotedView {
		c.logger.Debugf("already voted in view %d", proposal.View)
		return false
	}

	// The genesis proposal needs only the reconstructed genesis parent.
	if proposal.JustifyQC.IsGenesis && proposal.View == 1 {
		c.logger.Infof("proposal is genesis")
		parent := meridian.GenesisLeaf(c.state.Instance())
		leaf := meridian.Leaf{
			View:             proposal.View,
			JustifyQC:        proposal.JustifyQC,
			ParentCommitment: parent.Commit(),
			BlockHeader:      proposal.BlockHeader,
			Proposer:         c.quorum.Leader(proposal.View),
		}
		c.sendQuorumVote(leaf.Commit(), proposal.View)
		if c.payloadCommitment != nil && c.payloadCommitment.IsGenesis {
			c.payloadCommitment = nil
		}
		return true
	}

	if _, ok := c.vidShares[proposal.View]; !ok {
		c.logger.Debugf("no VID share for view %d yet, cannot vote", proposal.View)
		return false
	}

	cert, ok := c.state.SavedDACert(proposal.View)
	if !ok {
		c.logger.Debugf("no DA certificate for view %d yet, cannot vote", proposal.View)
		return false
	}

	parentCommit := proposal.JustifyQC.Data.LeafCommit
	var parent meridian.Leaf
	if proposal.JustifyQC.IsGenesis {
		parent = meridian.GenesisLeaf(c.state.Instance())
	} else if saved, ok := c.state.Leaf(parentCommit); ok {
		parent = saved
	} else {
		c.logger.Errorf("proposal's parent missing from storage, commitment %s", parentCommit)
		return false
	}

	if !c.verifier.VerifyDACert(cert) {
		c.logger.Errorf("invalid DA certificate for view %d, skipping proposal", proposal.View)
		return false
	}
	if !cert.IsGenesis && cert.Data.PayloadCommit != proposal.BlockHeader.PayloadCommitment {
		c.logger.Errorf("block payload commitment does not equal DA certificate payload commitment in view %d", proposal.View)
		return false
	}

	leaf := meridian.Leaf{
		View:             proposal.View,
		JustifyQC:        proposal.JustifyQC,
		ParentCommitment: parent.Commit(),
		BlockHeader:      proposal.BlockHeader,
		Proposer:         c.quorum.Leader(proposal.View),
	}
	c.sendQuorumVote(leaf.Commit(), proposal.View)
	return true
}

// sendQuorumVote signs and emits a quorum vote. The vote reaches the leader
// of view+1 through the network layer.
func (c *Consensus) sendQuorumVote(leafCommit meridian.Hash, view meridian.View) {
	vote := meridian.QuorumVote{
		View:   view,
		Data:   meridian.QuorumData{LeafCommit: leafCommit},
		Signer: c.id,
	}
	vote.Signature = c.signer.Sign(vote.SignedBytes())
	c.lastVotedView = view
	c.logger.Debugf("sending vote to next quorum leader for view %d", view+1)
	c.eventLoop.AddEvent(meridian.QuorumVoteSend{Vote: vote})
}

// publishProposalIfAble proposes for the given view by extending the high-QC
// chain, if this node is the leader and a payload commitment is staged.
func (c *Consensus) publishProposalIfAble(view meridian.View, tc *meridian.TimeoutCert) bool {
	if c.quorum.Leader(view) != c.id {
		// Expected for view 1, so skip the logging there.
		if view != 1 {
			c.logger.Errorf("formed a QC but not the leader for view %d", view)
		}
		return false
	}

	highQC := c.state.HighQC()
	parentView, ok := c.state.ViewState(highQC.View)
	if !ok {
		c.logger.Errorf("could not find parent view %d in state map, waiting for replica to see proposal", highQC.View)
		return false
	}
	if parentView.Failed || parentView.State == nil {
		c.logger.Errorf("parent of high QC points to a failed view %d", highQC.View)
		return false
	}
	if parentView.LeafCommit != highQC.Data.LeafCommit {
		// Happens on the genesis block.
		c.logger.Debugf("view map leaf %s does not match high QC leaf %s", parentView.LeafCommit, highQC.Data.LeafCommit)
	}
	parentLeaf, ok := c.state.Leaf(parentView.LeafCommit)
	if !ok {
		c.logger.Errorf("failed to find leaf of high QC parent")
		return false
	}

	if c.payloadCommitment == nil {
		c.logger.Debugf("cannot propose without a staged payload commitment")
		return false
	}

	header := meridian.NewBlockHeader(
		parentView.State, c.state.Instance(), parentLeaf.BlockHeader,
		c.payloadCommitment.Commitment, c.payloadCommitment.Metadata,
		uint64(time.Now().Unix()))

	leaf := meridian.Leaf{
		View:             view,
		JustifyQC:        highQC,
		ParentCommitment: parentLeaf.Commit(),
		BlockHeader:      header,
		Proposer:         c.id,
	}
	leafCommit := leaf.Commit()

	// The pending upgrade certificate is consumed iff its view matches,
	// whether or not the proposal succeeds.
	var upgradeCert *meridian.UpgradeCert
	if c.upgradeCert != nil && c.upgradeCert.View == view {
		upgradeCert = c.upgradeCert
		c.upgradeCert = nil
	}

	proposal := meridian.QuorumProposal{
		View:        view,
		BlockHeader: header,
		JustifyQC:   highQC,
		TimeoutCert: tc,
		UpgradeCert: upgradeCert,
		Proposer:    c.id,
	}
	c.pendingTC = nil

	signed := meridian.SignedProposal{
		Data:      proposal,
		Signature: c.signer.Sign(leafCommit[:]),
	}
	c.logger.Debugf("sending proposal for view %d", view)
	c.eventLoop.AddEvent(meridian.QuorumProposalSend{Proposal: signed, Sender: c.id})

	c.payloadCommitment = nil
	return true
}

// onQuorumVoteRecv aggregates a quorum vote if this node leads the next view.
func (c *Consensus) onQuorumVoteRecv(vote meridian.QuorumVote) {
	c.logger.Debugf("received quorum vote for view %d", vote.View)
	if c.quorum.Leader(vote.View+1) != c.id {
		c.logger.Errorf("not the leader for view %d, dropping quorum vote", vote.View+1)
		return
	}
	if c.quorumVotes == nil || vote.View > c.quorumVotes.view {
		c.logger.Debugf("starting quorum vote accumulation for view %d", vote.View)
		c.quorumVotes = newVoteAccumulator(vote.View, c.quorum)
	}
	if vote.View < c.quorumVotes.view {
		return
	}
	if !c.quorumVotes.add(vote.Signer, vote.SignedBytes(), vote.Signature) {
		return
	}
	signers, aggregate := c.quorumVotes.certificate()
	qc := meridian.QuorumCert{
		View:      vote.View,
		Data:      vote.Data,
		Signers:   signers,
		Signature: aggregate,
	}
	c.quorumVotes = nil
	c.eventLoop.AddEvent(meridian.QCFormed{Cert: meridian.CertFormed{QC: &qc}})
}

// onTimeoutVoteRecv aggregates a timeout vote if this node leads the next
// view.
func (c *Consensus) onTimeoutVoteRecv(vote meridian.TimeoutVote) {
	if c.quorum.Leader(vote.View+1) != c.id {
		c.logger.Errorf("not the leader for view %d, dropping timeout vote", vote.View+1)
		return
	}
	if c.timeoutVotes == nil || vote.View > c.timeoutVotes.view {
		c.timeoutVotes = newVoteAccumulator(vote.View, c.quorum)
	}
	if vote.View < c.timeoutVotes.view {
		return
	}
	if !c.timeoutVotes.add(vote.Signer, vote.SignedBytes(), vote.Signature) {
		return
	}
	signers, aggregate := c.timeoutVotes.certificate()
	tc := meridian.TimeoutCert{
		View:      vote.View,
		Data:      vote.Data,
		Signers:   signers,
		Signature: aggregate,
	}
	c.timeoutVotes = nil
	c.eventLoop.AddEvent(meridian.QCFormed{Cert: meridian.CertFormed{TC: &tc}})
}

// onDAVoteRecv aggregates a DA vote if this node is the DA leader for the
// vote's view. The formed certificate re-enters the bus for the replica to
// consume and the network layer to broadcast.
func (c *Consensus) onDAVoteRecv(vote meridian.DAVote) {
	if c.da.Leader(vote.View) != c.id {
		c.logger.Errorf("not the DA leader for view %d, dropping DA vote", vote.View)
		return
	}
	if c.daVotes == nil || vote.View > c.daVotes.view {
		c.daVotes = newVoteAccumulator(vote.View, c.da)
	}
	if vote.View < c.daVotes.view {
		return
	}
	if !c.daVotes.add(vote.Signer, vote.SignedBytes(), vote.Signature) {
		return
	}
	signers, aggregate := c.daVotes.certificate()
	cert := meridian.DACert{
		View:      vote.View,
		Data:      vote.Data,
		Signers:   signers,
		Signature: aggregate,
	}
	c.daVotes = nil
	c.eventLoop.AddEvent(meridian.DACRecv{Cert: cert})
}

// onQCFormed reacts to a certificate formed by an accumulator: the high QC
// moves forward, and if this node leads the following view it proposes.
func (c *Consensus) onQCFormed(cert meridian.CertFormed) {
	switch {
	case cert.TC != nil:
		tc := *cert.TC
		c.pendingTC = &tc
		c.eventLoop.AddEvent(meridian.CancelPollForVotes{View: tc.View})
		c.logger.Debugf("attempting to publish proposal after forming a TC for view %d", tc.View)
		if !c.publishProposalIfAble(tc.View+1, &tc) {
			c.logger.Warnf("was not able to publish proposal after TC for view %d", tc.View)
		}
	case cert.QC != nil:
		qc := *cert.QC
		c.state.UpdateHighQC(qc)
		c.eventLoop.AddEvent(meridian.CancelPollForVotes{View: qc.View})
		c.logger.Debugf("attempting to publish proposal after forming a QC for view %d", qc.View)
		if !c.publishProposalIfAble(qc.View+1, nil) {
			c.logger.Debugf("was not able to publish proposal when QC formed, still may publish")
		}
	}
}

// onUpgradeCertFormed stashes a formed upgrade certificate while it is still
// relevant.
func (c *Consensus) onUpgradeCertFormed(cert meridian.UpgradeCert) {
	c.logger.Debugf("upgrade certificate received for view %d", cert.View)
	if cert.View >= c.curView {
		c.upgradeCert = &cert
	}
}

// onDACRecv saves a DA certificate and tries to vote with it.
func (c *Consensus) onDACRecv(cert meridian.DACert) {
	c.logger.Debugf("DA certificate received for view %d", cert.View)
	c.eventLoop.AddEvent(meridian.CancelPollForDAC{View: cert.View})
	c.state.SaveDACert(cert)
	if c.voteIfAble() {
		c.currentProposal = nil
	}
}

// onVidDisperseRecv validates and stores this replica's VID share. Shares up
// to one view old are kept in case the view advanced first.
func (c *Consensus) onVidDisperseRecv(recv meridian.VidDisperseRecv) {
	view := recv.Share.Data.View
	c.logger.Debugf("VID disperse received for view %d", view)

	if view+1 < c.curView {
		c.logger.Warnf("throwing away VID disperse data more than one view older than view %d", c.curView)
		return
	}

	leader := c.quorum.Leader(view)
	if leader != recv.Sender {
		c.logger.Warnf("VID share for view %d is not from the expected leader", view)
		return
	}
	leaderKey, ok := c.quorum.Key(leader)
	if !ok || !crypto.Verify(leaderKey, recv.Share.Data.PayloadCommitment[:], recv.Share.Signature) {
		c.logger.Warnf("could not verify VID share signature for view %d", view)
		return
	}

	c.eventLoop.AddEvent(meridian.CancelPollForVIDDisperse{View: view})
	c.vidShares[view] = recv.Share
	if c.voteIfAble() {
		c.currentProposal = nil
	}
}

// onViewChange advances the view, activates a decided protocol upgrade once
// its first-block view is reached, and reports the finished view.
func (c *Consensus) onViewChange(newView meridian.View) {
	c.logger.Debugf("view change event for view %d", newView)
	oldView := c.curView

	c.eventLoop.AddEvent(meridian.PollForVIDDisperse{View: oldView + 1})

	if !c.updateView(newView) {
		c.logger.Debugf("view not updated")
		return
	}

	if cert := c.decidedUpgradeCert; cert != nil && newView >= cert.Data.NewVersionFirstBlock {
		c.logger.Infof("upgrading network version to %s", cert.Data.NewVersion)
		c.version = cert.Data.NewVersion
		c.decidedUpgradeCert = nil
	}

	c.sendAppEvent(oldView, meridian.ViewFinished{View: oldView})
}

// onTimeout signs and emits a timeout vote when the timer for a pending view
// fires without progress evidence. The vote for a view is signed exactly
// once; a repeat timeout re-emits the same vote.
func (c *Consensus) onTimeout(view meridian.View) {
	if c.curView >= view {
		return
	}
	if !c.quorum.HasStake(c.id) {
		c.logger.Debugf("not part of the quorum committee in view %d", c.curView)
		return
	}

	c.eventLoop.AddEvent(meridian.CancelPollForVotes{View: view})
	c.eventLoop.AddEvent(meridian.CancelPollForProposal{View: view})

	if c.lastTimeoutVote == nil || c.lastTimeoutVote.View != view {
		vote := meridian.TimeoutVote{
			View:   view,
			Data:   meridian.TimeoutData{View: view},
			Signer: c.id,
		}
		vote.Signature = c.signer.Sign(vote.SignedBytes())
		c.lastTimeoutVote = &vote
	}
	c.eventLoop.AddEvent(meridian.TimeoutVoteSend{Vote: *c.lastTimeoutVote})
	c.logger.Debugf("no evidence for view %d in time, sending timeout vote", view)

	c.sendAppEvent(view, meridian.ReplicaViewTimeout{View: view})
	c.state.Metrics().Timeouts.Add(1)
}

// onPayloadCommitment stages a payload commitment and proposes right away if
// this node already holds the evidence to lead the view.
func (c *Consensus) onPayloadCommitment(ev meridian.SendPayloadCommitmentAndMetadata) {
	c.logger.Debugf("staged payload commitment for view %d", ev.View)
	c.payloadCommitment = &CommitmentAndMetadata{
		Commitment: ev.Commitment,
		Metadata:   ev.Metadata,
	}
	if c.quorum.Leader(ev.View) == c.id && c.state.HighQC().View+1 == ev.View {
		c.publishProposalIfAble(ev.View, nil)
	}
	if tc := c.pendingTC; tc != nil {
		if c.quorum.Leader(tc.View+1) == c.id {
			c.publishProposalIfAble(ev.View, tc)
		}
	}
}

func (c *Consensus) onShutdown() {
	c.logger.Infof("consensus task shutting down")
	c.timer.Stop()
	c.eventLoop.Stop()
}
