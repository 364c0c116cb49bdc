package sprouts

// Operation names a GraphQL operation together with its persisted-query hash.
// The hashes are a versioned contract of the upstream API: they are captured
// from requests the storefront itself issues and must be kept as data, never
// derived.
type Operation struct {
	Name     string
	Hash     string
	Mutation bool
}

var (
	opFindOffers = Operation{
		Name: "FindOffersForUserV2",
		Hash: "f26ac1f27a58e191306d8fa6e15d4edd0492a625f0a8bd254310454a82596a8e",
	}
	opClipOffer = Operation{
		Name:     "ClipOfferForUser",
		Hash:     "3b1d829c6e1cf0a45d89371be2f7a0d4c6e85b2fa91c03de7f54a6b8c2d91e07",
		Mutation: true,
	}
)
