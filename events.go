package meridian

// Bus events. Network collaborators publish the *Recv events; the consensus
// task publishes the *Send events, polling directives, and internal
// notifications. All events on the bus are processed in arrival order; a
// handler's own broadcasts become visible in a later iteration, never
// synchronously.

// QuorumProposalRecv delivers a proposal from the quorum channel.
type QuorumProposalRecv struct {
	Proposal SignedProposal
	Sender   ID
}

// QuorumVoteRecv delivers a quorum vote to the next leader.
type QuorumVoteRecv struct {
	Vote QuorumVote
}

// TimeoutVoteRecv delivers a timeout vote to the next leader.
type TimeoutVoteRecv struct {
	Vote TimeoutVote
}

// DAVoteRecv delivers a DA vote to the DA leader.
type DAVoteRecv struct {
	Vote DAVote
}

// DACRecv delivers a formed DA certificate.
type DACRecv struct {
	Cert DACert
}

// VidDisperseRecv delivers this replica's VID share for a view.
type VidDisperseRecv struct {
	Share  SignedVidShare
	Sender ID
}

// QCFormed announces a certificate produced by a vote accumulator.
type QCFormed struct {
	Cert CertFormed
}

// UpgradeCertificateFormed announces a formed upgrade certificate.
type UpgradeCertificateFormed struct {
	Cert UpgradeCert
}

// SendPayloadCommitmentAndMetadata stages a payload commitment for the
// leader's next proposal.
type SendPayloadCommitmentAndMetadata struct {
	Commitment Hash
	Metadata   []byte
	View       View
}

// ViewChange requests (or announces) advancement to a view.
type ViewChange struct {
	View View
}

// Timeout fires when the timer for a view expires without progress evidence.
type Timeout struct {
	View View
}

// Shutdown terminates the consensus task.
type Shutdown struct{}

// QuorumVoteSend carries this replica's vote to the next leader.
type QuorumVoteSend struct {
	Vote QuorumVote
}

// TimeoutVoteSend carries this replica's timeout vote.
type TimeoutVoteSend struct {
	Vote TimeoutVote
}

// QuorumProposalSend broadcasts this leader's proposal.
type QuorumProposalSend struct {
	Proposal SignedProposal
	Sender   ID
}

// LeafDecided announces newly finalized leaves to sibling tasks.
type LeafDecided struct {
	Leaves []Leaf
}

// Polling directives instruct the network layer what to fetch for a view.

type PollForProposal struct{ View View }
type PollForDAC struct{ View View }
type PollForVIDDisperse struct{ View View }
type PollForVotes struct{ View View }

// PollFutureLeader asks the network layer to pre-connect to an upcoming
// leader.
type PollFutureLeader struct {
	View   View
	Leader ID
}

type CancelPollForProposal struct{ View View }
type CancelPollForDAC struct{ View View }
type CancelPollForVIDDisperse struct{ View View }
type CancelPollForVotes struct{ View View }

// Event is an application-visible notification paired with the view it
// concerns.
type Event struct {
	View View
	E    any
}

// DecidedLeaf pairs a finalized leaf with the VID share held for its view,
// if any.
type DecidedLeaf struct {
	Leaf Leaf
	Vid  *VidShare
}

// Decide reports a newly finalized chain prefix.
type Decide struct {
	LeafChain []DecidedLeaf
	QC        QuorumCert
	BlockSize uint64
}

// QuorumProposalEvent reports an accepted proposal.
type QuorumProposalEvent struct {
	Proposal SignedProposal
	Sender   ID
}

// ViewFinished reports that a view completed.
type ViewFinished struct {
	View View
}

// ReplicaViewTimeout reports that this replica timed out waiting for a view.
type ReplicaViewTimeout struct {
	View View
}

// Error surfaces a consensus error to the application.
type Error struct {
	Err error
}
