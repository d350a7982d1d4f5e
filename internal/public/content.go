package public

// Testimonial is a client story shown on the marketing pages.
type Testimonial struct {
	Name     string
	Location string
	Quote    string
	Rating   int
}

var testimonials = []Testimonial{
	{
		Name: "Maria G.", Location: "Phoenix, AZ", Rating: 5,
		Quote: "Three collections accounts that were not mine were removed in two months. I could see every step on the tracking page.",
	},
	{
		Name: "James T.", Location: "Columbus, OH", Rating: 5,
		Quote: "They called me back the same day and explained exactly what would happen next.",
	},
	{
		Name: "Alicia R.", Location: "Tampa, FL", Rating: 4,
		Quote: "My score went up 80 points and we finally qualified for our first home loan.",
	},
	{
		Name: "Dev P.", Location: "Austin, TX", Rating: 5,
		Quote: "Uploading my documents took five minutes. The rest was handled for me.",
	},
}

// featuredTestimonials is how many stories the home page shows.
const featuredTestimonials = 3

// Testimonials returns every client story.
func Testimonials() []Testimonial {
	return append([]Testimonial(nil), testimonials...)
}
