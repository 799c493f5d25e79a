package operators

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"l7mp.io/delta-collections/pkg/aggregation"
	"l7mp.io/delta-collections/pkg/cache"
	"l7mp.io/delta-collections/pkg/changeset"
)

var _ = Describe("LimitSize", func() {
	var people *cache.Cache[Person, string]

	BeforeEach(func() {
		people = newPeople()
	})

	AfterEach(func() {
		people.Dispose()
	})

	It("should fail on subscribe with a non-positive limit", func() {
		agg := aggregation.NewAggregator(LimitSize(people.Connect(), 0))
		defer agg.Dispose()
		Expect(agg.Error()).To(HaveOccurred())
	})

	It("should pass batches through below the limit", func() {
		agg := aggregation.NewAggregator(LimitSize(people.Connect(), 5))
		defer agg.Dispose()

		Expect(people.AddOrUpdate(
			Person{Name: "alice", Age: 30},
			Person{Name: "bob", Age: 40},
		)).To(Succeed())

		Expect(agg.MessageCount()).To(Equal(1))
		Expect(agg.Count()).To(Equal(2))
	})

	It("should forward the batch first, then evict the oldest as a second set", func() {
		agg := aggregation.NewAggregator(LimitSize(people.Connect(), 3))
		defer agg.Dispose()

		Expect(people.AddOrUpdate(
			Person{Name: "p1", Age: 1},
			Person{Name: "p2", Age: 2},
			Person{Name: "p3", Age: 3},
		)).To(Succeed())
		Expect(agg.MessageCount()).To(Equal(1))

		Expect(people.AddOrUpdate(
			Person{Name: "p4", Age: 4},
			Person{Name: "p5", Age: 5},
		)).To(Succeed())

		// the overflowing batch arrives as-is, the correction follows
		Expect(agg.MessageCount()).To(Equal(3))
		sets := agg.ChangeSets()
		Expect(sets[1].Summary().Adds).To(Equal(2))

		evictions := sets[2]
		Expect(evictions).To(HaveLen(2))
		Expect(evictions[0].Reason).To(Equal(changeset.Remove))
		Expect(evictions[0].Key).To(Equal("p1"))
		Expect(evictions[1].Key).To(Equal("p2"))

		Expect(agg.Count()).To(Equal(3))
		for _, name := range []string{"p3", "p4", "p5"} {
			_, ok := agg.Lookup(name)
			Expect(ok).To(BeTrue())
		}
	})

	It("should not evict for updates of retained keys", func() {
		agg := aggregation.NewAggregator(LimitSize(people.Connect(), 2))
		defer agg.Dispose()

		Expect(people.AddOrUpdate(
			Person{Name: "p1", Age: 1},
			Person{Name: "p2", Age: 2},
		)).To(Succeed())
		Expect(people.AddOrUpdate(Person{Name: "p1", Age: 10})).To(Succeed())

		Expect(agg.MessageCount()).To(Equal(2))
		Expect(agg.Count()).To(Equal(2))
	})

	It("should correct a single overflowing bulk load with one eviction set", func() {
		agg := aggregation.NewAggregator(LimitSize(people.Connect(), 10))
		defer agg.Dispose()

		batch := make([]Person, 100)
		for i := range batch {
			batch[i] = Person{Name: fmt.Sprintf("p%03d", i), Age: i}
		}
		Expect(people.AddOrUpdate(batch...)).To(Succeed())

		Expect(agg.MessageCount()).To(Equal(2))
		sets := agg.ChangeSets()
		Expect(sets[0].Summary().Adds).To(Equal(100))
		Expect(sets[1].Summary().Removes).To(Equal(90))
		Expect(agg.Count()).To(Equal(10))
		_, ok := agg.Lookup("p090")
		Expect(ok).To(BeTrue())
		_, ok = agg.Lookup("p089")
		Expect(ok).To(BeFalse())
	})

	It("should keep a rolling window over a stream of arrivals", func() {
		agg := aggregation.NewAggregator(LimitSize(people.Connect(), 3))
		defer agg.Dispose()

		for i := 1; i <= 10; i++ {
			Expect(people.AddOrUpdate(Person{Name: fmt.Sprintf("p%02d", i), Age: i})).To(Succeed())
		}

		Expect(agg.Count()).To(Equal(3))
		for _, name := range []string{"p08", "p09", "p10"} {
			_, ok := agg.Lookup(name)
			Expect(ok).To(BeTrue())
		}
	})
})
