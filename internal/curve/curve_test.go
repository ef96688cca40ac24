package curve

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokens(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), wad)
}

// 800M tokens for sale, 100 ETH target market cap.
func testCurve(t *testing.T) *Curve {
	t.Helper()
	c, err := New(tokens(800_000_000), tokens(100))
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(new(uint256.Int), tokens(1))
	assert.ErrorIs(t, err, ErrInvalidSupply)

	// 1 wei target over a huge supply cannot produce a non-zero opening price.
	_, err = New(tokens(1_000_000_000), uint256.NewInt(1))
	assert.ErrorIs(t, err, ErrPriceTooLow)
}

func TestPrice_Monotonic(t *testing.T) {
	c := testCurve(t)
	prev := c.Price(new(uint256.Int))
	for i := uint64(1); i <= 8; i++ {
		p := c.Price(tokens(i * 100_000_000))
		assert.False(t, p.Lt(prev), "price decreased at step %d", i)
		prev = p
	}
	assert.True(t, c.Price(c.Supply()).Eq(c.p1))
	assert.True(t, c.Price(new(uint256.Int)).Eq(c.p0))
}

func TestBuyCost_PathIndependentUpToRounding(t *testing.T) {
	c := testCurve(t)
	whole, err := c.BuyCost(new(uint256.Int), tokens(15_000_000))
	require.NoError(t, err)

	first, err := c.BuyCost(new(uint256.Int), tokens(10_000_000))
	require.NoError(t, err)
	second, err := c.BuyCost(tokens(10_000_000), tokens(5_000_000))
	require.NoError(t, err)

	sum := new(uint256.Int).Add(first, second)
	diff := new(uint256.Int)
	if sum.Gt(whole) {
		diff.Sub(sum, whole)
	} else {
		diff.Sub(whole, sum)
	}
	assert.True(t, diff.LtUint64(2), "split cost differs by %s wei", diff.Dec())
}

func TestBuyThenSell_NeverReturnsMore(t *testing.T) {
	c := testCurve(t)
	sold := tokens(42_000_000)
	for _, n := range []*uint256.Int{uint256.NewInt(1), uint256.NewInt(999), tokens(1), tokens(3_000_000)} {
		cost, err := c.BuyCost(sold, n)
		require.NoError(t, err)
		after := new(uint256.Int).Add(sold, n)
		proceeds, err := c.SellProceeds(after, n)
		require.NoError(t, err)
		assert.False(t, proceeds.Gt(cost), "n=%s cost=%s proceeds=%s", n.Dec(), cost.Dec(), proceeds.Dec())
		assert.True(t, new(uint256.Int).Sub(cost, proceeds).LtUint64(2), "rounding gap larger than 1 wei")
	}
}

func TestBuyCost_ExceedsSupply(t *testing.T) {
	c := testCurve(t)
	_, err := c.BuyCost(tokens(799_999_999), tokens(2))
	assert.ErrorIs(t, err, ErrSupplyExhausted)

	_, err = c.SellProceeds(tokens(1), tokens(2))
	assert.ErrorIs(t, err, ErrSupplyExhausted)

	_, err = c.BuyCost(new(uint256.Int), new(uint256.Int))
	assert.ErrorIs(t, err, ErrZeroAmount)
}

func TestTokensForEth_LargestAffordable(t *testing.T) {
	c := testCurve(t)
	sold := tokens(10_000_000)
	budget := tokens(1)

	n, err := c.TokensForEth(sold, budget)
	require.NoError(t, err)
	require.False(t, n.IsZero())

	cost, err := c.BuyCost(sold, n)
	require.NoError(t, err)
	assert.False(t, cost.Gt(budget))

	more, err := c.BuyCost(sold, new(uint256.Int).AddUint64(n, 1))
	require.NoError(t, err)
	assert.True(t, more.Gt(budget))
}

func TestTokensForEth_CapsAtRemainingSupply(t *testing.T) {
	c := testCurve(t)
	sold := tokens(799_000_000)
	n, err := c.TokensForEth(sold, tokens(1_000))
	require.NoError(t, err)
	assert.True(t, n.Eq(tokens(1_000_000)))
}

func TestWholeCurveCost_MatchesMarketCapShape(t *testing.T) {
	c := testCurve(t)
	// Area of a trapezoid from P0 to P1 over S: S*(P0+P1)/2/1e18.
	cost, err := c.BuyCost(new(uint256.Int), c.Supply())
	require.NoError(t, err)

	want := new(uint256.Int).Add(c.p0, c.p1)
	want.Mul(want, c.Supply())
	want.Div(want, new(uint256.Int).Lsh(wad, 1))
	diff := new(uint256.Int).Sub(cost, want)
	assert.True(t, diff.LtUint64(2))
	// Fully sold, the last price times the supply is the target cap.
	assert.True(t, cost.Lt(c.TargetMarketCap()))
}

func TestPremium(t *testing.T) {
	assert.True(t, Premium(uint256.NewInt(10000), 500).Eq(uint256.NewInt(500)))
	assert.True(t, Premium(uint256.NewInt(1), 500).Eq(uint256.NewInt(1)), "premium rounds up")
	assert.True(t, Premium(uint256.NewInt(10000), 0).IsZero())
}

func TestWithTargetMarketCap_KeepsSupply(t *testing.T) {
	c := testCurve(t)
	c2, err := c.WithTargetMarketCap(tokens(50))
	require.NoError(t, err)
	assert.True(t, c2.Supply().Eq(c.Supply()))
	assert.True(t, c2.Price(new(uint256.Int)).Lt(c.Price(new(uint256.Int))))
}
