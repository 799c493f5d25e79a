package operators

import (
	"errors"
	"fmt"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"l7mp.io/delta-collections/pkg/aggregation"
	"l7mp.io/delta-collections/pkg/cache"
	"l7mp.io/delta-collections/pkg/changeset"
)

var _ = Describe("Transform", func() {
	var people *cache.Cache[Person, string]
	label := func(p Person) (string, error) {
		return fmt.Sprintf("%s:%d", strings.ToUpper(p.Name), p.Age), nil
	}

	BeforeEach(func() {
		people = newPeople()
	})

	AfterEach(func() {
		people.Dispose()
	})

	It("should map adds keyed by the upstream key", func() {
		agg := aggregation.NewAggregator(Transform(people.Connect(), label))
		defer agg.Dispose()

		Expect(people.AddOrUpdate(Person{Name: "alice", Age: 30})).To(Succeed())

		v, ok := agg.Lookup("alice")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("ALICE:30"))
	})

	It("should carry the prior mapped value on updates", func() {
		Expect(people.AddOrUpdate(Person{Name: "alice", Age: 30})).To(Succeed())
		agg := aggregation.NewAggregator(Transform(people.Connect(), label))
		defer agg.Dispose()

		Expect(people.AddOrUpdate(Person{Name: "alice", Age: 31})).To(Succeed())

		sets := agg.ChangeSets()
		update := sets[len(sets)-1][0]
		Expect(update.Reason).To(Equal(changeset.Update))
		Expect(update.Current).To(Equal("ALICE:31"))
		Expect(*update.Previous).To(Equal("ALICE:30"))
	})

	It("should forward removes carrying the cached downstream value", func() {
		Expect(people.AddOrUpdate(Person{Name: "alice", Age: 30})).To(Succeed())
		agg := aggregation.NewAggregator(Transform(people.Connect(), label))
		defer agg.Dispose()

		Expect(people.Remove("alice")).To(Succeed())

		sets := agg.ChangeSets()
		remove := sets[len(sets)-1][0]
		Expect(remove.Reason).To(Equal(changeset.Remove))
		Expect(remove.Current).To(Equal("ALICE:30"))
		Expect(agg.Count()).To(BeZero())
	})

	It("should suppress refreshes whose mapped value is unchanged", func() {
		// the mapping ignores the age, so a pure refresh maps identically
		initials := func(p Person) (string, error) { return p.Name[:1], nil }

		Expect(people.AddOrUpdate(Person{Name: "alice", Age: 30})).To(Succeed())
		agg := aggregation.NewAggregator(Transform(people.Connect(), initials))
		defer agg.Dispose()
		Expect(agg.MessageCount()).To(Equal(1))

		Expect(people.Refresh("alice")).To(Succeed())
		Expect(agg.MessageCount()).To(Equal(1))
	})

	It("should re-map refreshes into updates when the mapped value changed", func() {
		// the mapping reads mutable external state, which is what refresh is for
		suffix := "v1"
		version := func(p Person) (string, error) { return p.Name + "-" + suffix, nil }

		Expect(people.AddOrUpdate(Person{Name: "alice", Age: 30})).To(Succeed())
		agg := aggregation.NewAggregator(Transform(people.Connect(), version))
		defer agg.Dispose()

		suffix = "v2"
		Expect(people.Refresh("alice")).To(Succeed())

		sets := agg.ChangeSets()
		update := sets[len(sets)-1][0]
		Expect(update.Reason).To(Equal(changeset.Update))
		Expect(update.Current).To(Equal("alice-v2"))
		Expect(*update.Previous).To(Equal("alice-v1"))
	})

	Describe("error handling", func() {
		failing := func(p Person) (string, error) {
			if p.Age < 0 {
				return "", errors.New("negative age")
			}
			return p.Name, nil
		}

		It("should terminate the stream on a mapping error without a handler", func() {
			agg := aggregation.NewAggregator(Transform(people.Connect(), failing))
			defer agg.Dispose()

			Expect(people.AddOrUpdate(Person{Name: "broken", Age: -1})).To(Succeed())
			Expect(agg.Error()).To(HaveOccurred())
		})

		It("should drop failing items and keep the rest with a handler", func() {
			var dropped []Person
			agg := aggregation.NewAggregator(Transform(people.Connect(), failing,
				TransformOptions[Person, string]{
					ErrorHandler: func(err error, p Person) { dropped = append(dropped, p) },
				}))
			defer agg.Dispose()

			Expect(people.AddOrUpdate(
				Person{Name: "alice", Age: 30},
				Person{Name: "broken", Age: -1},
				Person{Name: "bob", Age: 40},
			)).To(Succeed())

			Expect(agg.Error()).NotTo(HaveOccurred())
			Expect(agg.Count()).To(Equal(2))
			Expect(dropped).To(HaveLen(1))
			Expect(dropped[0].Name).To(Equal("broken"))
		})

		It("should fail the whole batch consistently without a handler", func() {
			agg := aggregation.NewAggregator(Transform(people.Connect(), failing))
			defer agg.Dispose()

			Expect(people.AddOrUpdate(
				Person{Name: "alice", Age: 30},
				Person{Name: "broken", Age: -1},
			)).To(Succeed())

			// nothing from the failing batch is emitted
			Expect(agg.MessageCount()).To(BeZero())
			Expect(agg.Error()).To(HaveOccurred())
		})
	})

	Describe("parallel mapping", func() {
		It("should produce the same ordered output as the sequential path", func() {
			agg := aggregation.NewAggregator(Transform(people.Connect(), label,
				TransformOptions[Person, string]{Parallelism: 4}))
			defer agg.Dispose()

			batch := make([]Person, 50)
			for i := range batch {
				batch[i] = Person{Name: fmt.Sprintf("p%02d", i), Age: i}
			}
			Expect(people.AddOrUpdate(batch...)).To(Succeed())

			Expect(agg.MessageCount()).To(Equal(1))
			cs := agg.ChangeSets()[0]
			Expect(cs).To(HaveLen(50))
			for i, change := range cs {
				Expect(change.Key).To(Equal(fmt.Sprintf("p%02d", i)))
				Expect(change.Current).To(Equal(fmt.Sprintf("P%02d:%d", i, i)))
			}
		})
	})
})
