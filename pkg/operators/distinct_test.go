package operators

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"l7mp.io/delta-collections/pkg/aggregation"
	"l7mp.io/delta-collections/pkg/cache"
	"l7mp.io/delta-collections/pkg/changeset"
)

var _ = Describe("DistinctValues", func() {
	var people *cache.Cache[Person, string]
	city := func(p Person) string { return p.City }

	BeforeEach(func() {
		people = newPeople()
	})

	AfterEach(func() {
		people.Dispose()
	})

	It("should announce a value on its first occurrence only", func() {
		agg := aggregation.NewAggregator(DistinctValues(people.Connect(), city))
		defer agg.Dispose()

		Expect(people.AddOrUpdate(Person{Name: "alice", City: "london"})).To(Succeed())
		Expect(people.AddOrUpdate(Person{Name: "bob", City: "london"})).To(Succeed())

		Expect(agg.MessageCount()).To(Equal(1))
		Expect(agg.Count()).To(Equal(1))
		_, ok := agg.Lookup("london")
		Expect(ok).To(BeTrue())
	})

	It("should retract a value when its last occurrence leaves", func() {
		Expect(people.AddOrUpdate(
			Person{Name: "alice", City: "london"},
			Person{Name: "bob", City: "london"},
		)).To(Succeed())
		agg := aggregation.NewAggregator(DistinctValues(people.Connect(), city))
		defer agg.Dispose()

		Expect(people.Remove("alice")).To(Succeed())
		Expect(agg.Count()).To(Equal(1))

		Expect(people.Remove("bob")).To(Succeed())
		Expect(agg.Count()).To(BeZero())
		sets := agg.ChangeSets()
		Expect(sets[len(sets)-1][0].Reason).To(Equal(changeset.Remove))
	})

	It("should move the count when an item's projection changes", func() {
		Expect(people.AddOrUpdate(Person{Name: "alice", City: "london"})).To(Succeed())
		agg := aggregation.NewAggregator(DistinctValues(people.Connect(), city))
		defer agg.Dispose()

		Expect(people.AddOrUpdate(Person{Name: "alice", City: "paris"})).To(Succeed())

		Expect(agg.Count()).To(Equal(1))
		_, ok := agg.Lookup("paris")
		Expect(ok).To(BeTrue())
		_, ok = agg.Lookup("london")
		Expect(ok).To(BeFalse())
	})

	It("should ignore updates that keep the projection", func() {
		Expect(people.AddOrUpdate(Person{Name: "alice", Age: 30, City: "london"})).To(Succeed())
		agg := aggregation.NewAggregator(DistinctValues(people.Connect(), city))
		defer agg.Dispose()
		Expect(agg.MessageCount()).To(Equal(1))

		Expect(people.AddOrUpdate(Person{Name: "alice", Age: 31, City: "london"})).To(Succeed())
		Expect(agg.MessageCount()).To(Equal(1))
	})

	It("should compute transitions over the whole batch", func() {
		Expect(people.AddOrUpdate(Person{Name: "alice", City: "london"})).To(Succeed())
		agg := aggregation.NewAggregator(DistinctValues(people.Connect(), city))
		defer agg.Dispose()

		// alice leaves london and bob arrives there in the same edit: the
		// value never reaches zero, so nothing is emitted
		err := people.Edit(func(u *cache.Updater[Person, string]) {
			u.AddOrUpdate(Person{Name: "alice", City: "paris"})
			u.AddOrUpdate(Person{Name: "bob", City: "london"})
		})
		Expect(err).NotTo(HaveOccurred())

		sets := agg.ChangeSets()
		last := sets[len(sets)-1]
		Expect(last).To(HaveLen(1))
		Expect(last[0].Reason).To(Equal(changeset.Add))
		Expect(last[0].Key).To(Equal("paris"))
	})

	It("should emit batch values in first-touched order", func() {
		agg := aggregation.NewAggregator(DistinctValues(people.Connect(), city))
		defer agg.Dispose()

		Expect(people.AddOrUpdate(
			Person{Name: "alice", City: "london"},
			Person{Name: "bob", City: "paris"},
			Person{Name: "carol", City: "london"},
			Person{Name: "dave", City: "berlin"},
		)).To(Succeed())

		cs := agg.ChangeSets()[0]
		keys := make([]string, len(cs))
		for i, c := range cs {
			keys[i] = c.Key
		}
		Expect(keys).To(Equal([]string{"london", "paris", "berlin"}))
	})
})
